// Package membership decides how the bot reacts when it is added to or
// removed from a chat.
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"tg_link_relay_bot/internal/domain"
	"tg_link_relay_bot/internal/logging"
)

// Member statuses as reported by Telegram.
const (
	StatusCreator       = "creator"
	StatusAdministrator = "administrator"
	StatusMember        = "member"
	StatusRestricted    = "restricted"
	StatusLeft          = "left"
	StatusKicked        = "kicked"
)

const chatTypePrivate = "private"

// Outcome names the transition taken for an event.
type Outcome string

const (
	// OutcomeIgnored means the event required no action.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeAlreadyAuthorized means the bot joined a chat that was already approved.
	OutcomeAlreadyAuthorized Outcome = "already_authorized"
	// OutcomeAuthorized means the administrator added the bot and the chat was approved.
	OutcomeAuthorized Outcome = "authorized"
	// OutcomeRejected means someone else added the bot; the attempt was logged and the bot left.
	OutcomeRejected Outcome = "rejected"
	// OutcomeRevoked means the bot left an approved chat and the approval was removed.
	OutcomeRevoked Outcome = "revoked"
)

// Event describes a change of the bot's own membership in a chat.
type Event struct {
	ChatID    int64
	ChatType  string
	ChatName  string
	OldStatus string
	NewStatus string
	ActorID   int64
	ActorName string
}

type registry interface {
	IsAuthorized(ctx context.Context, chatID int64) (bool, error)
	AddGroup(ctx context.Context, chatID int64, name string) error
	RemoveGroup(ctx context.Context, chatID int64) (bool, error)
	LogUnauthorizedAttempt(ctx context.Context, chatID int64, chatName string, addedByID int64, addedByName string) error
}

// Transport is the subset of the Telegram API the machine calls.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) error
	LeaveChat(ctx context.Context, chatID int64) error
}

// Machine applies membership transitions. The administrator id is the only
// trust anchor: a chat is approved when, and only when, the administrator
// adds the bot to it.
type Machine struct {
	adminID   int64
	registry  registry
	transport Transport
	logger    *logrus.Entry
}

// NewMachine constructs a Machine for the configured administrator.
func NewMachine(adminID int64, registry registry, transport Transport, logger *logrus.Entry) *Machine {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Machine{
		adminID:   adminID,
		registry:  registry,
		transport: transport,
		logger:    logger,
	}
}

// Handle applies the transition for ev and reports which one was taken.
func (m *Machine) Handle(ctx context.Context, ev Event) (Outcome, error) {
	if m == nil || m.registry == nil || m.transport == nil {
		return OutcomeIgnored, errors.New("membership machine is not initialized")
	}
	if ev.ChatID == 0 || ev.ChatType == chatTypePrivate {
		return OutcomeIgnored, nil
	}

	ev.ChatName = strings.TrimSpace(ev.ChatName)
	if ev.ChatName == "" {
		ev.ChatName = domain.UnknownChatName
	}

	switch {
	case isPresent(ev.NewStatus):
		return m.joined(ctx, ev)
	case isGone(ev.NewStatus):
		return m.removed(ctx, ev)
	default:
		return OutcomeIgnored, nil
	}
}

func (m *Machine) joined(ctx context.Context, ev Event) (Outcome, error) {
	entry := m.entry(ctx, ev).WithFields(logging.Fields{
		"actor_id":   ev.ActorID,
		"new_status": ev.NewStatus,
		"old_status": ev.OldStatus,
	})

	authorized, err := m.registry.IsAuthorized(ctx, ev.ChatID)
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("check authorization: %w", err)
	}

	if authorized {
		entry.WithField("event", "bot_joined_authorized").Info("bot is already authorized in group")
		return OutcomeAlreadyAuthorized, nil
	}

	if ev.ActorID == m.adminID {
		if err := m.registry.AddGroup(ctx, ev.ChatID, ev.ChatName); err != nil {
			return OutcomeIgnored, fmt.Errorf("register group: %w", err)
		}
		entry.WithField("event", "bot_joined_by_admin").Info("admin added bot to group, registered automatically")

		text := fmt.Sprintf("The group '%s' (ID: %d) has been automatically registered.", ev.ChatName, ev.ChatID)
		if err := m.transport.SendText(ctx, ev.ChatID, text); err != nil {
			return OutcomeAuthorized, fmt.Errorf("send registration notice: %w", err)
		}
		return OutcomeAuthorized, nil
	}

	// The audit write and the leave are independent: a failed write must not
	// keep the bot in an unapproved chat.
	logErr := m.registry.LogUnauthorizedAttempt(ctx, ev.ChatID, ev.ChatName, ev.ActorID, ev.ActorName)
	if logErr != nil {
		entry.WithField("event", "unauthorized_attempt_log_error").WithError(logErr).Error("failed to record unauthorized attempt")
		logErr = fmt.Errorf("record unauthorized attempt: %w", logErr)
	}

	entry.WithFields(logging.Fields{
		"event":      "bot_joined_unauthorized",
		"actor_name": ev.ActorName,
	}).Warn("bot was added to an unauthorized group, leaving")

	leaveErr := m.transport.LeaveChat(ctx, ev.ChatID)
	if leaveErr != nil {
		entry.WithField("event", "leave_chat_error").WithError(leaveErr).Error("failed to leave unauthorized group")
		leaveErr = fmt.Errorf("leave unauthorized group: %w", leaveErr)
	}

	return OutcomeRejected, errors.Join(logErr, leaveErr)
}

func (m *Machine) removed(ctx context.Context, ev Event) (Outcome, error) {
	// RemoveGroup tolerates absent groups, so no read-then-write is needed.
	removed, err := m.registry.RemoveGroup(ctx, ev.ChatID)
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("remove group: %w", err)
	}
	if !removed {
		return OutcomeIgnored, nil
	}

	m.entry(ctx, ev).WithFields(logging.Fields{
		"event":      "bot_removed_authorized",
		"actor_id":   ev.ActorID,
		"new_status": ev.NewStatus,
	}).Info("bot was removed from an authorized group, dropped from authorized list")

	return OutcomeRevoked, nil
}

func (m *Machine) entry(ctx context.Context, ev Event) *logrus.Entry {
	return m.logger.WithFields(logging.Context{
		ChatID:   ev.ChatID,
		ChatName: ev.ChatName,
		TaskID:   logging.TaskID(ctx),
	}.Fields())
}

// isPresent treats administrators as members: promoting the bot or adding
// it directly as an admin is still an add.
func isPresent(status string) bool {
	return status == StatusMember || status == StatusAdministrator
}

func isGone(status string) bool {
	return status == StatusKicked || status == StatusLeft
}
