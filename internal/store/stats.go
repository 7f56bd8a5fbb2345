package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// Stats is the verification funnel as seen from the database.
type Stats struct {
	Accounts             int64 `json:"accounts"`
	PendingVerifications int64 `json:"pendingVerifications"`
	CustomBotAccounts    int64 `json:"customBotAccounts"`
	Communities          int64 `json:"communities"`
}

var (
	// Accounts holding a code that no verification has consumed yet.
	pendingVerificationFilter = bson.M{"verification_code": bson.M{"$ne": nil}}
	// Accounts verifying through their own bot.
	customBotFilter = bson.M{"use_custom_bot": true}
)

// StatsProvider counts accounts and communities for diagnostics.
type StatsProvider struct {
	accounts    countCollection
	communities countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the provided account
// and community collections.
func NewStatsProvider(accounts, communities countCollection) *StatsProvider {
	return &StatsProvider{
		accounts:    accounts,
		communities: communities,
	}
}

// Snapshot runs every count. The first failing count aborts the snapshot.
func (p *StatsProvider) Snapshot(ctx context.Context) (Stats, error) {
	if ctx == nil {
		return Stats{}, errors.New("context is required")
	}
	if p == nil || p.accounts == nil || p.communities == nil {
		return Stats{}, errors.New("stats provider is not initialized")
	}

	var stats Stats
	counts := []struct {
		name   string
		coll   countCollection
		filter interface{}
		dst    *int64
	}{
		{"accounts", p.accounts, bson.D{}, &stats.Accounts},
		{"pending verifications", p.accounts, pendingVerificationFilter, &stats.PendingVerifications},
		{"custom bot accounts", p.accounts, customBotFilter, &stats.CustomBotAccounts},
		{"communities", p.communities, bson.D{}, &stats.Communities},
	}

	for _, c := range counts {
		n, err := c.coll.CountDocuments(ctx, c.filter)
		if err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", c.name, err)
		}
		*c.dst = n
	}

	return stats, nil
}
