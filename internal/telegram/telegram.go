// Package telegram wraps the Telegram Bot API calls used by verification and
// bot token validation. Every call is on demand and bounded by the caller's
// context and the HTTP client timeout; nothing polls in the background.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"membify/internal/config"
	"membify/internal/domain"
	"membify/internal/logging"
)

// botAPI is the subset of *bot.Bot used here; tests swap in fakes through
// createBot.
type botAPI interface {
	GetMe(ctx context.Context) (*models.User, error)
	GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	FileDownloadLink(f *models.File) string
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error)
	CreateChatInviteLink(ctx context.Context, params *bot.CreateChatInviteLinkParams) (*models.ChatInviteLink, error)
}

var createBot = func(token string, options ...bot.Option) (botAPI, error) {
	return bot.New(token, options...)
}

const inviteLinkName = "Membify"

// Client issues Bot API calls for arbitrary bot tokens: the platform default
// bot or an account's custom bot.
type Client struct {
	apiURL         string
	httpClient     *http.Client
	updatesLimit   int
	updatesTimeout time.Duration
	logger         *logrus.Entry
}

// ChatDetails is the chat metadata stored on a community.
type ChatDetails struct {
	ID          int64
	Title       string
	Type        string
	PhotoFileID string
}

// NewClient builds a Client from the resolved configuration.
func NewClient(cfg config.Config, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramAPIURL) == "" {
		return nil, errors.New("telegram api url is required")
	}
	if cfg.TelegramTimeout <= 0 {
		return nil, errors.New("telegram timeout must be positive")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	limit := cfg.UpdatesLimit
	if limit <= 0 {
		limit = config.DefaultUpdatesLimit
	}

	return &Client{
		apiURL:         strings.TrimRight(cfg.TelegramAPIURL, "/"),
		httpClient:     &http.Client{Timeout: cfg.TelegramTimeout},
		updatesLimit:   limit,
		updatesTimeout: cfg.UpdatesTimeout,
		logger:         logger,
	}, nil
}

// ChatDetails fetches title and type of a chat and the file id of its photo.
// A chat without a photo leaves PhotoFileID empty.
func (c *Client) ChatDetails(ctx context.Context, token string, chatID int64) (ChatDetails, error) {
	api, err := c.botFor(token)
	if err != nil {
		return ChatDetails{}, err
	}

	chat, err := api.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
	if err != nil {
		return ChatDetails{}, apiError("getChat", err)
	}

	details := ChatDetails{
		ID:    chat.ID,
		Title: strings.TrimSpace(chat.Title),
		Type:  string(chat.Type),
	}
	if chat.Photo != nil {
		details.PhotoFileID = chat.Photo.BigFileID
	}

	return details, nil
}

// CreateInviteLink mints a new invite link for the chat. The bot must be an
// administrator allowed to invite users.
func (c *Client) CreateInviteLink(ctx context.Context, token string, chatID int64) (string, error) {
	api, err := c.botFor(token)
	if err != nil {
		return "", err
	}

	link, err := api.CreateChatInviteLink(ctx, &bot.CreateChatInviteLinkParams{
		ChatID: chatID,
		Name:   inviteLinkName,
	})
	if err != nil {
		return "", apiError("createChatInviteLink", err)
	}
	if link == nil {
		return "", &domain.TelegramAPIError{Method: "createChatInviteLink", Description: "empty invite link"}
	}

	return link.InviteLink, nil
}

func (c *Client) botFor(token string) (botAPI, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("bot token is required")
	}

	api, err := createBot(strings.TrimSpace(token),
		bot.WithSkipGetMe(),
		bot.WithServerURL(c.apiURL),
		bot.WithHTTPClient(c.updatesTimeout, c.httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	return api, nil
}

// providerErrors are the sentinels go-telegram/bot puts in front of the
// provider description ("<sentinel>, <description>").
var providerErrors = []struct {
	sentinel error
	code     int
}{
	{bot.ErrorBadRequest, http.StatusBadRequest},
	{bot.ErrorUnauthorized, http.StatusUnauthorized},
	{bot.ErrorForbidden, http.StatusForbidden},
	{bot.ErrorNotFound, http.StatusNotFound},
	{bot.ErrorConflict, http.StatusConflict},
}

// apiError converts a bot library error into *domain.TelegramAPIError with
// the provider description verbatim.
func apiError(method string, err error) error {
	var tgErr *domain.TelegramAPIError
	if errors.As(err, &tgErr) {
		return err
	}

	out := &domain.TelegramAPIError{
		Method:      method,
		Description: err.Error(),
		Err:         err,
	}

	var (
		tooMany *bot.TooManyRequestsError
		migrate *bot.MigrateError
	)
	switch {
	case errors.As(err, &tooMany):
		out.Code = http.StatusTooManyRequests
		out.Description = strings.TrimPrefix(tooMany.Message, bot.ErrorTooManyRequests.Error()+", ")
	case errors.As(err, &migrate):
		out.Code = http.StatusBadRequest
		out.Description = strings.TrimPrefix(migrate.Message, bot.ErrorBadRequest.Error()+": ")
	default:
		for _, p := range providerErrors {
			if errors.Is(err, p.sentinel) {
				out.Code = p.code
				out.Description = strings.TrimPrefix(err.Error(), p.sentinel.Error()+", ")
				break
			}
		}
	}

	return out
}

// providerMessage returns the Telegram description carried by err, or its
// text when there is none.
func providerMessage(err error) string {
	var tgErr *domain.TelegramAPIError
	if errors.As(err, &tgErr) && tgErr.Description != "" {
		return tgErr.Description
	}
	return err.Error()
}

type updateMeta struct {
	updateID   int64
	userID     int64
	chatID     int64
	chatTitle  string
	chatType   string
	text       string
	updateType string
	botStatus  models.ChatMemberType
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return messageMeta(update.ID, update.Message, "message")
	case update.EditedMessage != nil:
		return messageMeta(update.ID, update.EditedMessage, "edited_message")
	case update.ChannelPost != nil:
		return messageMeta(update.ID, update.ChannelPost, "channel_post")
	case update.EditedChannelPost != nil:
		return messageMeta(update.ID, update.EditedChannelPost, "edited_channel_post")
	case update.MyChatMember != nil:
		meta := chatMeta(update.ID, &update.MyChatMember.Chat, "my_chat_member")
		meta.userID = userID(&update.MyChatMember.From)
		meta.botStatus = update.MyChatMember.NewChatMember.Type
		return meta
	case update.ChatMember != nil:
		meta := chatMeta(update.ID, &update.ChatMember.Chat, "chat_member")
		meta.userID = userID(&update.ChatMember.From)
		return meta
	default:
		return updateMeta{updateID: update.ID, updateType: "unknown"}
	}
}

func messageMeta(updateID int64, msg *models.Message, updateType string) updateMeta {
	meta := chatMeta(updateID, &msg.Chat, updateType)
	meta.userID = userID(msg.From)

	text := strings.TrimSpace(msg.Text)
	if caption := strings.TrimSpace(msg.Caption); caption != "" {
		if text != "" {
			text += "\n"
		}
		text += caption
	}
	meta.text = text

	return meta
}

func chatMeta(updateID int64, chat *models.Chat, updateType string) updateMeta {
	meta := updateMeta{updateID: updateID, updateType: updateType}
	if chat == nil {
		return meta
	}

	meta.chatID = chat.ID
	meta.chatType = string(chat.Type)
	meta.chatTitle = strings.TrimSpace(chat.Title)
	if meta.chatTitle == "" {
		meta.chatTitle = strings.TrimSpace(chat.Username)
	}

	return meta
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}
