// Package community decides who owns a verified chat and writes the matching
// community record.
package community

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"membify/internal/domain"
	"membify/internal/logging"
)

// Outcome classifies a chat relative to the verifying account.
type Outcome string

const (
	// OutcomeNew means no community is bound to the chat.
	OutcomeNew Outcome = "new"
	// OutcomeReconnect means the chat is already bound to the same account.
	OutcomeReconnect Outcome = "reconnect"
	// OutcomeConflict means the chat is bound to a different account.
	OutcomeConflict Outcome = "conflict"
)

// Resolution is the result of an ownership lookup.
type Resolution struct {
	Outcome  Outcome
	Existing *domain.Community
}

// ProvisionInput carries the chat metadata gathered during verification.
type ProvisionInput struct {
	AccountID   string
	ChatID      int64
	Name        string
	ChatType    string
	PhotoFileID string
	InviteLink  string
}

type communityStore interface {
	Create(ctx context.Context, community domain.Community) (domain.Community, error)
	UpdateOwned(ctx context.Context, community domain.Community) (domain.Community, error)
	GetByChatID(ctx context.Context, chatID int64) (domain.Community, error)
}

// Resolver looks up the current owner of a chat. It never writes.
type Resolver struct {
	communities communityStore
}

// NewResolver constructs a Resolver.
func NewResolver(communities communityStore) *Resolver {
	return &Resolver{communities: communities}
}

// Resolve reports whether chatID is unclaimed, owned by accountID or owned by
// someone else.
func (r *Resolver) Resolve(ctx context.Context, chatID int64, accountID string) (Resolution, error) {
	if r == nil || r.communities == nil {
		return Resolution{}, errors.New("ownership resolver is not initialized")
	}
	if ctx == nil {
		return Resolution{}, errors.New("context is required")
	}
	if chatID == 0 {
		return Resolution{}, errors.New("chat id is required")
	}

	existing, err := r.communities.GetByChatID(ctx, chatID)
	if errors.Is(err, domain.ErrCommunityNotFound) {
		return Resolution{Outcome: OutcomeNew}, nil
	}
	if err != nil {
		return Resolution{}, err
	}

	if existing.OwnerID == accountID {
		return Resolution{Outcome: OutcomeReconnect, Existing: &existing}, nil
	}

	return Resolution{Outcome: OutcomeConflict, Existing: &existing}, nil
}

// Provisioner creates or refreshes communities after a successful match.
type Provisioner struct {
	communities communityStore
	resolver    *Resolver
	logger      *logrus.Entry
}

// NewProvisioner constructs a Provisioner for the provided store.
func NewProvisioner(communities communityStore, logger *logrus.Entry) *Provisioner {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Provisioner{
		communities: communities,
		resolver:    NewResolver(communities),
		logger:      logger,
	}
}

// Provision applies resolution: new chats are inserted, reconnects refresh the
// mutable fields and conflicts are refused with *domain.ConflictError. An
// insert that loses a race on the unique chat index is resolved again once.
func (p *Provisioner) Provision(ctx context.Context, input ProvisionInput, resolution Resolution) (domain.Community, error) {
	if p == nil || p.communities == nil {
		return domain.Community{}, errors.New("community provisioner is not initialized")
	}
	if ctx == nil {
		return domain.Community{}, errors.New("context is required")
	}
	if input.ChatID == 0 {
		return domain.Community{}, errors.New("chat id is required")
	}
	if strings.TrimSpace(input.AccountID) == "" {
		return domain.Community{}, errors.New("account id is required")
	}

	community, err := p.apply(ctx, input, resolution)
	if !errors.Is(err, domain.ErrDuplicateChat) {
		return community, err
	}

	p.logger.WithFields(logging.Fields{
		"event":      "community_insert_raced",
		"account_id": input.AccountID,
		"chat_id":    input.ChatID,
	}).Warn("chat was claimed concurrently, resolving again")

	again, err := p.resolver.Resolve(ctx, input.ChatID, input.AccountID)
	if err != nil {
		return domain.Community{}, fmt.Errorf("re-resolve chat %d: %w", input.ChatID, err)
	}
	if again.Outcome == OutcomeNew {
		return domain.Community{}, fmt.Errorf("re-resolve chat %d: %w", input.ChatID, domain.ErrDuplicateChat)
	}

	return p.apply(ctx, input, again)
}

func (p *Provisioner) apply(ctx context.Context, input ProvisionInput, resolution Resolution) (domain.Community, error) {
	name := strings.TrimSpace(input.Name)

	switch resolution.Outcome {
	case OutcomeNew:
		if name == "" {
			name = fmt.Sprintf("Chat %d", input.ChatID)
		}
		created, err := p.communities.Create(ctx, domain.Community{
			OwnerID:     input.AccountID,
			Name:        name,
			ChatID:      input.ChatID,
			ChatType:    input.ChatType,
			PhotoFileID: input.PhotoFileID,
			InviteLink:  input.InviteLink,
		})
		if err != nil {
			return domain.Community{}, err
		}

		p.logger.WithFields(logging.Fields{
			"event":        "community_created",
			"account_id":   input.AccountID,
			"chat_id":      input.ChatID,
			"community_id": created.ID,
		}).Info("created community")
		return created, nil

	case OutcomeReconnect:
		if name == "" && resolution.Existing != nil {
			name = resolution.Existing.Name
		}
		updated, err := p.communities.UpdateOwned(ctx, domain.Community{
			OwnerID:     input.AccountID,
			Name:        name,
			ChatID:      input.ChatID,
			ChatType:    input.ChatType,
			PhotoFileID: input.PhotoFileID,
			InviteLink:  input.InviteLink,
		})
		if err != nil {
			return domain.Community{}, err
		}

		p.logger.WithFields(logging.Fields{
			"event":        "community_reconnected",
			"account_id":   input.AccountID,
			"chat_id":      input.ChatID,
			"community_id": updated.ID,
		}).Info("reconnected community")
		return updated, nil

	case OutcomeConflict:
		p.logger.WithFields(logging.Fields{
			"event":      "community_conflict",
			"account_id": input.AccountID,
			"chat_id":    input.ChatID,
		}).Info("chat is owned by another account")
		return domain.Community{}, &domain.ConflictError{ChatID: input.ChatID}

	default:
		return domain.Community{}, fmt.Errorf("unknown resolution outcome %q", resolution.Outcome)
	}
}
