package telegram

import (
	"context"
	"regexp"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"membify/internal/logging"
)

// maxCandidateChats bounds the getChatMember probes issued per validation.
const maxCandidateChats = 25

// DiscoveryHint tells callers how to widen the chat list. Telegram exposes no
// "list my chats" call, so the list is a lower bound.
const DiscoveryHint = "Only chats seen recently are listed. Post a message in the target chat and validate again to discover it."

var tokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// BotIdentity is the bot returned by getMe.
type BotIdentity struct {
	ID                      int64  `json:"id"`
	Username                string `json:"username"`
	FirstName               string `json:"firstName"`
	CanJoinGroups           bool   `json:"canJoinGroups"`
	CanReadAllGroupMessages bool   `json:"canReadAllGroupMessages"`
	SupportsInlineQueries   bool   `json:"supportsInlineQueries"`
}

// AdminChat is a chat where the bot holds creator or administrator status.
type AdminChat struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ValidationResult is the outcome of a token validation. Chats is never
// exhaustive, which Complete=false makes explicit.
type ValidationResult struct {
	Valid    bool         `json:"valid"`
	Bot      *BotIdentity `json:"botInfo,omitempty"`
	Chats    []AdminChat  `json:"chatList"`
	Complete bool         `json:"complete"`
	Hint     string       `json:"hint,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// TokenValidator checks custom bot tokens and discovers chats the bot
// administers.
type TokenValidator struct {
	client        *Client
	probeChannels []string
	logger        *logrus.Entry
}

// NewTokenValidator constructs a TokenValidator. probeChannels are public
// channel handles tried only when no other chat was discovered.
func NewTokenValidator(client *Client, probeChannels []string, logger *logrus.Entry) *TokenValidator {
	if logger == nil {
		logger = logging.Logger()
	}

	return &TokenValidator{
		client:        client,
		probeChannels: probeChannels,
		logger:        logger,
	}
}

// Validate calls getMe for token. On success it collects admin chats from
// recent updates and knownChatIDs, confirming each with getChatMember, and
// falls back to the probe channels when nothing was found.
func (v *TokenValidator) Validate(ctx context.Context, token string, knownChatIDs ...int64) ValidationResult {
	token = strings.TrimSpace(token)
	if !tokenPattern.MatchString(token) {
		return ValidationResult{Message: "bot token format is invalid", Chats: []AdminChat{}}
	}

	api, err := v.client.botFor(token)
	if err != nil {
		return ValidationResult{Message: err.Error(), Chats: []AdminChat{}}
	}

	me, err := api.GetMe(ctx)
	if err != nil {
		v.logger.WithField("event", "bot_token_invalid").WithError(err).Info("bot token rejected by telegram")
		return ValidationResult{Message: providerMessage(apiError("getMe", err)), Chats: []AdminChat{}}
	}
	if me == nil || !me.IsBot {
		return ValidationResult{Message: "token does not belong to a bot", Chats: []AdminChat{}}
	}

	result := ValidationResult{
		Valid: true,
		Bot: &BotIdentity{
			ID:                      me.ID,
			Username:                me.Username,
			FirstName:               me.FirstName,
			CanJoinGroups:           me.CanJoinGroups,
			CanReadAllGroupMessages: me.CanReadAllGroupMessages,
			SupportsInlineQueries:   me.SupportInlineQueries,
		},
		Chats: []AdminChat{},
		Hint:  DiscoveryHint,
	}

	candidates, titles := v.candidates(ctx, token, knownChatIDs)
	for _, chatID := range candidates {
		if chat, ok := v.adminChat(ctx, api, chatID, me.ID); ok {
			if chat.Title == "" {
				chat.Title = titles[chatID]
			}
			result.Chats = append(result.Chats, chat)
		}
	}

	if len(result.Chats) == 0 {
		for _, handle := range v.probeChannels {
			if chat, ok := v.adminChat(ctx, api, handle, me.ID); ok {
				result.Chats = append(result.Chats, chat)
			}
		}
	}

	v.logger.WithFields(logging.Fields{
		"event":      "bot_token_validated",
		"bot_id":     me.ID,
		"candidates": len(candidates),
		"chats":      len(result.Chats),
	}).Info("validated bot token")

	return result
}

// candidates returns distinct non-private chat ids from recent updates
// followed by knownChatIDs, capped at maxCandidateChats.
func (v *TokenValidator) candidates(ctx context.Context, token string, knownChatIDs []int64) ([]int64, map[int64]string) {
	seen := make(map[int64]bool)
	titles := make(map[int64]string)
	out := make([]int64, 0)

	add := func(chatID int64) {
		if chatID == 0 || seen[chatID] || len(out) >= maxCandidateChats {
			return
		}
		seen[chatID] = true
		out = append(out, chatID)
	}

	updates, err := v.client.FetchRecentUpdates(ctx, token)
	if err != nil {
		v.logger.WithField("event", "bot_token_updates_unavailable").WithError(err).Warn("could not read updates for chat discovery")
	}

	for i := range updates {
		meta := extractUpdateMeta(&updates[i])
		if meta.chatID == 0 || meta.chatType == string(models.ChatTypePrivate) {
			continue
		}
		if meta.chatTitle != "" {
			titles[meta.chatID] = meta.chatTitle
		}
		add(meta.chatID)
	}

	for _, chatID := range knownChatIDs {
		add(chatID)
	}

	return out, titles
}

// adminChat confirms the bot's status in chatID (numeric id or @handle).
func (v *TokenValidator) adminChat(ctx context.Context, api botAPI, chatID any, botID int64) (AdminChat, bool) {
	member, err := api.GetChatMember(ctx, &bot.GetChatMemberParams{ChatID: chatID, UserID: botID})
	if err != nil || member == nil {
		if err != nil {
			v.logger.WithFields(logging.Fields{
				"event":   "bot_chat_member_unavailable",
				"chat_id": chatID,
			}).WithError(err).Debug("could not read bot membership")
		}
		return AdminChat{}, false
	}

	if member.Type != models.ChatMemberTypeOwner && member.Type != models.ChatMemberTypeAdministrator {
		return AdminChat{}, false
	}

	chat := AdminChat{Status: string(member.Type)}
	if id, ok := chatID.(int64); ok {
		chat.ID = id
	}

	info, err := api.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
	if err != nil {
		return chat, chat.ID != 0
	}

	chat.ID = info.ID
	chat.Title = strings.TrimSpace(info.Title)
	chat.Type = string(info.Type)
	return chat, true
}
