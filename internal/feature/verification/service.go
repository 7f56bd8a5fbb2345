// Package verification runs the chat ownership check: it looks for the
// account's outstanding code in recent Telegram updates and, on a match,
// binds the chat to the account as a community.
package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"membify/internal/domain"
	"membify/internal/feature/community"
	"membify/internal/logging"
	"membify/internal/telegram"
)

// State names a step of a verification run.
type State string

const (
	StateIdle           State = "idle"
	StatePolling        State = "polling"
	StateMatchFound     State = "match_found"
	StateOwnershipCheck State = "ownership_check"
	StateProvisioned    State = "provisioned"
	StateConflict       State = "conflict"
	StateNoMatch        State = "no_match"
)

// troubleshootingAfter is the attempt count from which callers should show
// setup help.
const troubleshootingAfter = 2

// Result is the outcome of one Verify call.
type Result struct {
	Verified            bool
	State               State
	Community           *domain.Community
	DuplicateChatID     int64
	Attempts            int
	ShowTroubleshooting bool
	RequiresNewCode     bool
	Message             string
}

type accountStore interface {
	GetByID(ctx context.Context, accountID string) (domain.Account, error)
	IncrementAttempts(ctx context.Context, accountID string) (int, error)
	ClearVerificationCode(ctx context.Context, accountID string) error
	SetCustomBot(ctx context.Context, accountID, token string, enabled bool) error
}

type communityReader interface {
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Community, error)
	GetOwned(ctx context.Context, ownerID, communityID string) (domain.Community, error)
}

// gateway is the Telegram surface used by the workflow.
type gateway interface {
	FetchRecentUpdates(ctx context.Context, token string) ([]models.Update, error)
	ChatDetails(ctx context.Context, token string, chatID int64) (telegram.ChatDetails, error)
	CreateInviteLink(ctx context.Context, token string, chatID int64) (string, error)
	DownloadChatPhoto(ctx context.Context, token, fileID string) (telegram.Photo, error)
}

type tokenValidator interface {
	Validate(ctx context.Context, token string, knownChatIDs ...int64) telegram.ValidationResult
}

// Deps wires the Service collaborators.
type Deps struct {
	Accounts     accountStore
	Communities  communityReader
	Resolver     *community.Resolver
	Provisioner  *community.Provisioner
	Telegram     gateway
	Validator    tokenValidator
	DefaultToken string
	Logger       *logrus.Entry
}

// Service coordinates verification and the account's bot settings.
type Service struct {
	accounts     accountStore
	communities  communityReader
	resolver     *community.Resolver
	provisioner  *community.Provisioner
	telegram     gateway
	validator    tokenValidator
	defaultToken string
	logger       *logrus.Entry
}

// NewService validates deps and constructs a Service.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Accounts == nil:
		return nil, errors.New("account store is required")
	case deps.Communities == nil:
		return nil, errors.New("community store is required")
	case deps.Resolver == nil || deps.Provisioner == nil:
		return nil, errors.New("community resolver and provisioner are required")
	case deps.Telegram == nil:
		return nil, errors.New("telegram gateway is required")
	case deps.Validator == nil:
		return nil, errors.New("token validator is required")
	case strings.TrimSpace(deps.DefaultToken) == "":
		return nil, errors.New("default bot token is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Logger()
	}

	return &Service{
		accounts:     deps.Accounts,
		communities:  deps.Communities,
		resolver:     deps.Resolver,
		provisioner:  deps.Provisioner,
		telegram:     deps.Telegram,
		validator:    deps.Validator,
		defaultToken: strings.TrimSpace(deps.DefaultToken),
		logger:       logger,
	}, nil
}

// Verify checks recent updates of the account's bot for its outstanding code.
// A missing match or a chat owned by another account is reported in the
// Result with a nil error; errors are reserved for failed lookups and writes.
func (s *Service) Verify(ctx context.Context, accountID string) (Result, error) {
	if ctx == nil {
		return Result{}, errors.New("context is required")
	}

	log := logging.FromContext(ctx, s.logger).WithField("account_id", accountID)
	transition(log, StateIdle)

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return Result{}, err
	}

	code := account.OutstandingCode()
	if code == "" {
		return Result{}, domain.ErrNoOutstandingCode
	}

	token := account.BotToken(s.defaultToken)
	log = log.WithField("custom_bot", account.UsesCustomBot())

	transition(log, StatePolling)
	updates, err := s.telegram.FetchRecentUpdates(ctx, token)
	if err != nil {
		return Result{}, err
	}

	match, ok := telegram.FindMatch(updates, code)
	if !ok {
		attempts, err := s.accounts.IncrementAttempts(ctx, accountID)
		if err != nil {
			return Result{}, err
		}

		transition(log.WithFields(logging.Fields{"updates": len(updates), "attempts": attempts}), StateNoMatch)
		return Result{
			State:               StateNoMatch,
			Attempts:            attempts,
			ShowTroubleshooting: attempts >= troubleshootingAfter,
			Message:             domain.ErrNotFoundYet.Error(),
		}, nil
	}

	log = log.WithFields(logging.Fields{"chat_id": match.ChatID, "update_id": match.UpdateID})
	transition(log, StateMatchFound)

	transition(log, StateOwnershipCheck)
	resolution, err := s.resolver.Resolve(ctx, match.ChatID, accountID)
	if err != nil {
		return Result{}, err
	}
	if resolution.Outcome == community.OutcomeConflict {
		return conflictResult(log, match.ChatID), nil
	}

	input := s.enrich(ctx, log, token, accountID, match)

	created, err := s.provisioner.Provision(ctx, input, resolution)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			return conflictResult(log, conflict.ChatID), nil
		}
		return Result{}, err
	}

	if err := s.accounts.ClearVerificationCode(ctx, accountID); err != nil {
		return Result{}, fmt.Errorf("community %s saved: %w", created.ID, err)
	}

	transition(log.WithFields(logging.Fields{
		"community_id": created.ID,
		"outcome":      string(resolution.Outcome),
	}), StateProvisioned)

	return Result{
		Verified:  true,
		State:     StateProvisioned,
		Community: &created,
	}, nil
}

// enrich gathers chat title, photo and invite link. Failures only drop the
// optional fields.
func (s *Service) enrich(ctx context.Context, log *logrus.Entry, token, accountID string, match telegram.Match) community.ProvisionInput {
	input := community.ProvisionInput{
		AccountID: accountID,
		ChatID:    match.ChatID,
		Name:      match.ChatTitle,
		ChatType:  match.ChatType,
	}

	details, err := s.telegram.ChatDetails(ctx, token, match.ChatID)
	if err != nil {
		log.WithField("event", "verification_enrich_failed").WithError(err).Warn("could not load chat details")
	} else {
		if details.Title != "" {
			input.Name = details.Title
		}
		if details.Type != "" {
			input.ChatType = details.Type
		}
		input.PhotoFileID = details.PhotoFileID
	}

	link, err := s.telegram.CreateInviteLink(ctx, token, match.ChatID)
	if err != nil {
		log.WithField("event", "verification_invite_failed").WithError(err).Warn("could not create invite link")
	} else {
		input.InviteLink = link
	}

	return input
}

// ListCommunities returns the communities owned by accountID.
func (s *Service) ListCommunities(ctx context.Context, accountID string) ([]domain.Community, error) {
	return s.communities.ListByOwner(ctx, accountID)
}

// CommunityPhoto opens the photo of a community owned by accountID. Photo
// file ids belong to the bot that saw them, so the account's current bot
// fetches it.
func (s *Service) CommunityPhoto(ctx context.Context, accountID, communityID string) (telegram.Photo, error) {
	owned, err := s.communities.GetOwned(ctx, accountID, communityID)
	if err != nil {
		return telegram.Photo{}, err
	}
	if owned.PhotoFileID == "" {
		return telegram.Photo{}, domain.ErrNoCommunityPhoto
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return telegram.Photo{}, err
	}

	return s.telegram.DownloadChatPhoto(ctx, account.BotToken(s.defaultToken), owned.PhotoFileID)
}

// ValidateToken checks a bot token without storing anything.
func (s *Service) ValidateToken(ctx context.Context, token string) telegram.ValidationResult {
	return s.validator.Validate(ctx, token)
}

// SetCustomBot validates token and, when valid, stores it and switches the
// account to its own bot. Invalid tokens are returned in the result and never
// stored.
func (s *Service) SetCustomBot(ctx context.Context, accountID, token string) (telegram.ValidationResult, error) {
	var known []int64
	owned, err := s.communities.ListByOwner(ctx, accountID)
	if err != nil {
		logging.FromContext(ctx, s.logger).WithFields(logging.Fields{
			"event":      "custom_bot_known_chats_unavailable",
			"account_id": accountID,
		}).WithError(err).Warn("could not load known chats")
	}
	for _, c := range owned {
		known = append(known, c.ChatID)
	}

	result := s.validator.Validate(ctx, token, known...)
	if !result.Valid {
		return result, nil
	}

	if err := s.accounts.SetCustomBot(ctx, accountID, token, true); err != nil {
		return telegram.ValidationResult{}, err
	}

	logging.FromContext(ctx, s.logger).WithFields(logging.Fields{
		"event":      "custom_bot_enabled",
		"account_id": accountID,
		"bot_id":     result.Bot.ID,
	}).Info("account switched to custom bot")

	return result, nil
}

// DisableCustomBot switches the account back to the platform bot. The stored
// token is kept.
func (s *Service) DisableCustomBot(ctx context.Context, accountID string) error {
	if err := s.accounts.SetCustomBot(ctx, accountID, "", false); err != nil {
		return err
	}

	logging.FromContext(ctx, s.logger).WithFields(logging.Fields{
		"event":      "custom_bot_disabled",
		"account_id": accountID,
	}).Info("account switched to platform bot")

	return nil
}

func conflictResult(log *logrus.Entry, chatID int64) Result {
	transition(log, StateConflict)

	return Result{
		State:           StateConflict,
		DuplicateChatID: chatID,
		RequiresNewCode: true,
		Message:         (&domain.ConflictError{ChatID: chatID}).Error(),
	}
}

func transition(log *logrus.Entry, state State) {
	log.WithFields(logging.Fields{
		"event": "verification_state",
		"state": string(state),
	}).Debug("verification state changed")
}
