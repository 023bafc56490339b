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

// StatsProvider exposes collection counts for the admin status report
// without leaking MongoDB internals to callers.
type StatsProvider struct {
	groups   countCollection
	attempts countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the provided group and
// attempt collections.
func NewStatsProvider(groups, attempts countCollection) *StatsProvider {
	return &StatsProvider{
		groups:   groups,
		attempts: attempts,
	}
}

// CountGroups returns the number of authorized groups.
func (p *StatsProvider) CountGroups(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.groups == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.groups.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count groups: %w", err)
	}

	return count, nil
}

// CountAttempts returns the number of recorded unauthorized attempts.
func (p *StatsProvider) CountAttempts(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.attempts == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.attempts.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}

	return count, nil
}
