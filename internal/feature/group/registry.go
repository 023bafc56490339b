// Package group maintains the set of chats the bot may operate in and the
// audit log of rejected additions.
package group

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"tg_link_relay_bot/internal/domain"
	"tg_link_relay_bot/internal/logging"
)

type groupStore interface {
	Upsert(ctx context.Context, chatID int64, name string) (bool, error)
	Delete(ctx context.Context, chatID int64) (bool, error)
	Exists(ctx context.Context, chatID int64) (bool, error)
	List(ctx context.Context) ([]domain.AuthorizedGroup, error)
}

type attemptStore interface {
	Append(ctx context.Context, attempt domain.UnauthorizedAttempt) (domain.UnauthorizedAttempt, error)
	List(ctx context.Context) ([]domain.UnauthorizedAttempt, error)
}

// Registry is the only owner of authorized-group and unauthorized-attempt
// persistence. Every store failure is returned as a *domain.StorageError.
type Registry struct {
	groups   groupStore
	attempts attemptStore
	logger   *logrus.Entry
}

// NewRegistry constructs a Registry over the provided stores.
func NewRegistry(groups groupStore, attempts attemptStore, logger *logrus.Entry) *Registry {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registry{
		groups:   groups,
		attempts: attempts,
		logger:   logger,
	}
}

// IsAuthorized reports whether chatID is in the authorized set.
func (r *Registry) IsAuthorized(ctx context.Context, chatID int64) (bool, error) {
	if err := r.ready(); err != nil {
		return false, err
	}

	ok, err := r.groups.Exists(ctx, chatID)
	if err != nil {
		return false, domain.NewStorageError("is authorized", err)
	}
	return ok, nil
}

// AddGroup authorizes chatID under name. Calling it again for the same chat
// only refreshes the name.
func (r *Registry) AddGroup(ctx context.Context, chatID int64, name string) error {
	if err := r.ready(); err != nil {
		return err
	}

	created, err := r.groups.Upsert(ctx, chatID, name)
	if err != nil {
		return domain.NewStorageError("add group", err)
	}

	entry := r.logger.WithFields(logging.Fields{
		"chat_id":   chatID,
		"chat_name": strings.TrimSpace(name),
	})
	if created {
		entry.WithField("event", "group_authorized").Info("authorized group")
	} else {
		entry.WithField("event", "group_renamed").Debug("group already authorized, refreshed name")
	}

	return nil
}

// RemoveGroup revokes authorization for chatID. Removing an absent group is
// not an error; it reports false.
func (r *Registry) RemoveGroup(ctx context.Context, chatID int64) (bool, error) {
	if err := r.ready(); err != nil {
		return false, err
	}

	removed, err := r.groups.Delete(ctx, chatID)
	if err != nil {
		return false, domain.NewStorageError("remove group", err)
	}

	entry := r.logger.WithField("chat_id", chatID)
	if removed {
		entry.WithField("event", "group_removed").Info("removed authorized group")
	} else {
		entry.WithField("event", "group_remove_missing").Warn("group to remove was not authorized")
	}

	return removed, nil
}

// ListGroups returns the authorized groups in store insertion order.
func (r *Registry) ListGroups(ctx context.Context) ([]domain.AuthorizedGroup, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}

	groups, err := r.groups.List(ctx)
	if err != nil {
		return nil, domain.NewStorageError("list groups", err)
	}
	return groups, nil
}

// LogUnauthorizedAttempt appends one audit record. Repeated attempts for the
// same chat each get their own record.
func (r *Registry) LogUnauthorizedAttempt(ctx context.Context, chatID int64, chatName string, addedByID int64, addedByName string) error {
	if err := r.ready(); err != nil {
		return err
	}

	attempt, err := r.attempts.Append(ctx, domain.UnauthorizedAttempt{
		ChatID:      chatID,
		ChatName:    strings.TrimSpace(chatName),
		AddedByID:   addedByID,
		AddedByName: strings.TrimSpace(addedByName),
	})
	if err != nil {
		return domain.NewStorageError("log unauthorized attempt", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":         "unauthorized_attempt",
		"chat_id":       attempt.ChatID,
		"chat_name":     attempt.ChatName,
		"added_by_id":   attempt.AddedByID,
		"added_by_name": attempt.AddedByName,
	}).Warn("recorded unauthorized attempt")

	return nil
}

// ListUnauthorizedAttempts returns the full attempt history, oldest first.
func (r *Registry) ListUnauthorizedAttempts(ctx context.Context) ([]domain.UnauthorizedAttempt, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}

	attempts, err := r.attempts.List(ctx)
	if err != nil {
		return nil, domain.NewStorageError("list unauthorized attempts", err)
	}
	return attempts, nil
}

func (r *Registry) ready() error {
	if r == nil || r.groups == nil || r.attempts == nil {
		return errors.New("group registry is not initialized")
	}
	return nil
}
