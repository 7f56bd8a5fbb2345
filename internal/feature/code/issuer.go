// Package code issues the verification codes an account owner posts into the
// Telegram chat they want to connect.
package code

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/sirupsen/logrus"

	"membify/internal/config"
	"membify/internal/domain"
	"membify/internal/logging"
)

const (
	alphabet     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	suffixLength = 8
	// maxCollisionRetries bounds regeneration when a new code repeats the old one.
	maxCollisionRetries = 5
)

var generateSuffix = func() (string, error) {
	return gonanoid.Generate(alphabet, suffixLength)
}

type accountStore interface {
	GetByID(ctx context.Context, accountID string) (domain.Account, error)
	SetVerificationCode(ctx context.Context, accountID, code string, initial bool) error
}

// Issuer hands out and rotates verification codes.
type Issuer struct {
	accounts accountStore
	prefix   string
	logger   *logrus.Entry
}

// NewIssuer constructs an Issuer. An empty prefix falls back to the default.
func NewIssuer(accounts accountStore, prefix string, logger *logrus.Entry) *Issuer {
	if logger == nil {
		logger = logging.Logger()
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = config.DefaultCodePrefix
	}

	return &Issuer{
		accounts: accounts,
		prefix:   strings.TrimSpace(prefix),
		logger:   logger,
	}
}

// GetOrCreateCode returns the account's outstanding code, issuing one when
// none exists. Repeated calls return the same code until it is consumed or
// regenerated.
func (i *Issuer) GetOrCreateCode(ctx context.Context, accountID string) (string, error) {
	if err := i.check(ctx, accountID); err != nil {
		return "", err
	}

	account, err := i.accounts.GetByID(ctx, accountID)
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		account = domain.Account{AccountID: accountID}
	case err != nil:
		return "", err
	}

	if existing := account.OutstandingCode(); existing != "" {
		return existing, nil
	}

	return i.issue(ctx, account, "verification_code_issued")
}

// InvalidateAndRegenerate replaces any outstanding code with a new, different
// one and resets the attempt counter.
func (i *Issuer) InvalidateAndRegenerate(ctx context.Context, accountID string) (string, error) {
	if err := i.check(ctx, accountID); err != nil {
		return "", err
	}

	account, err := i.accounts.GetByID(ctx, accountID)
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		account = domain.Account{AccountID: accountID}
	case err != nil:
		return "", err
	}

	return i.issue(ctx, account, "verification_code_regenerated")
}

func (i *Issuer) issue(ctx context.Context, account domain.Account, event string) (string, error) {
	previous := account.OutstandingCode()

	var code string
	for attempt := 0; ; attempt++ {
		suffix, err := generateSuffix()
		if err != nil {
			return "", fmt.Errorf("generate verification code: %w", err)
		}
		code = i.prefix + suffix
		if code != previous {
			break
		}
		if attempt >= maxCollisionRetries {
			return "", errors.New("generate verification code: repeated previous code")
		}
	}

	initial := account.InitialVerificationCode == nil || strings.TrimSpace(*account.InitialVerificationCode) == ""
	if err := i.accounts.SetVerificationCode(ctx, account.AccountID, code, initial); err != nil {
		return "", err
	}

	i.logger.WithFields(logging.Fields{
		"event":      event,
		"account_id": account.AccountID,
		"initial":    initial,
	}).Info("issued verification code")

	return code, nil
}

func (i *Issuer) check(ctx context.Context, accountID string) error {
	if i == nil || i.accounts == nil {
		return errors.New("code issuer is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if strings.TrimSpace(accountID) == "" {
		return errors.New("account id is required")
	}
	return nil
}
