package code

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membify/internal/domain"
	"membify/internal/testutil/mongofake"
)

const accountID = "5b1c8a3e-6f1e-4d7a-9a59-0c3d2d0f6b11"

var codePattern = regexp.MustCompile(`^MBF_[0-9A-Z]{8}$`)

func newIssuer(t *testing.T) (*Issuer, *domain.AccountRepository, *logtest.Hook) {
	t.Helper()

	hookLogger, hook := logtest.NewNullLogger()
	repo := domain.NewAccountRepository(mongofake.New("accounts", "account_id"))
	return NewIssuer(repo, "", logrus.NewEntry(hookLogger)), repo, hook
}

func stubSuffixes(t *testing.T, suffixes ...string) {
	t.Helper()

	orig := generateSuffix
	t.Cleanup(func() { generateSuffix = orig })

	generateSuffix = func() (string, error) {
		if len(suffixes) == 0 {
			return "", errors.New("no more suffixes")
		}
		next := suffixes[0]
		suffixes = suffixes[1:]
		return next, nil
	}
}

func TestGetOrCreateCodeIsIdempotent(t *testing.T) {
	issuer, repo, hook := newIssuer(t)
	ctx := context.Background()

	first, err := issuer.GetOrCreateCode(ctx, accountID)
	require.NoError(t, err)
	assert.Regexp(t, codePattern, first)

	second, err := issuer.GetOrCreateCode(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	account, err := repo.GetByID(ctx, accountID)
	require.NoError(t, err)
	require.NotNil(t, account.InitialVerificationCode)
	assert.Equal(t, first, *account.InitialVerificationCode)

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "verification_code_issued", hook.LastEntry().Data["event"])
	assert.Equal(t, true, hook.LastEntry().Data["initial"])
}

func TestInvalidateAndRegenerateRotatesCode(t *testing.T) {
	issuer, repo, _ := newIssuer(t)
	ctx := context.Background()

	first, err := issuer.GetOrCreateCode(ctx, accountID)
	require.NoError(t, err)

	_, err = repo.IncrementAttempts(ctx, accountID)
	require.NoError(t, err)

	second, err := issuer.InvalidateAndRegenerate(ctx, accountID)
	require.NoError(t, err)
	assert.Regexp(t, codePattern, second)
	assert.NotEqual(t, first, second)

	account, err := repo.GetByID(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, second, account.OutstandingCode())
	assert.Equal(t, first, *account.InitialVerificationCode)
	assert.Zero(t, account.VerificationAttempts)
}

func TestInvalidateAndRegenerateSkipsRepeatedCode(t *testing.T) {
	issuer, _, _ := newIssuer(t)
	ctx := context.Background()

	stubSuffixes(t, "AAAA1111", "AAAA1111", "BBBB2222")

	first, err := issuer.GetOrCreateCode(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, "MBF_AAAA1111", first)

	second, err := issuer.InvalidateAndRegenerate(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, "MBF_BBBB2222", second)
}

func TestGetOrCreateCodeAfterConsumption(t *testing.T) {
	issuer, repo, _ := newIssuer(t)
	ctx := context.Background()

	stubSuffixes(t, "AAAA1111", "CCCC3333")

	first, err := issuer.GetOrCreateCode(ctx, accountID)
	require.NoError(t, err)
	require.NoError(t, repo.ClearVerificationCode(ctx, accountID))

	next, err := issuer.GetOrCreateCode(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, "MBF_CCCC3333", next)

	account, err := repo.GetByID(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, first, *account.InitialVerificationCode, "initial code is recorded once")
}

func TestIssuerCustomPrefix(t *testing.T) {
	repo := domain.NewAccountRepository(mongofake.New("accounts", "account_id"))
	issuer := NewIssuer(repo, " TST_ ", nil)

	got, err := issuer.GetOrCreateCode(context.Background(), accountID)
	require.NoError(t, err)
	assert.Regexp(t, `^TST_[0-9A-Z]{8}$`, got)
}

func TestIssuerPersistenceFailure(t *testing.T) {
	coll := mongofake.New("accounts", "account_id")
	coll.FailOn("UpdateOne", errors.New("not primary"))
	issuer := NewIssuer(domain.NewAccountRepository(coll), "", nil)

	got, err := issuer.GetOrCreateCode(context.Background(), accountID)
	assert.Empty(t, got)

	var persistenceErr *domain.PersistenceError
	assert.ErrorAs(t, err, &persistenceErr)
}

func TestIssuerRequiresInput(t *testing.T) {
	issuer, _, _ := newIssuer(t)

	_, err := issuer.GetOrCreateCode(context.Background(), " ")
	assert.Error(t, err)

	var nilIssuer *Issuer
	_, err = nilIssuer.InvalidateAndRegenerate(context.Background(), accountID)
	assert.Error(t, err)
}
