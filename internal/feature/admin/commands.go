// Package admin implements the administrator command surface: managing the
// authorized group list and inspecting rejected additions.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tg_link_relay_bot/internal/domain"
	"tg_link_relay_bot/internal/logging"
)

// Command names, without the leading slash.
const (
	CommandMenu         = "menu"
	CommandListGroups   = "list_groups"
	CommandAddGroup     = "add_group"
	CommandRemoveGroup  = "remove_group"
	CommandListAttempts = "list_attempts"
	CommandStatus       = "status"
	CommandHelp         = "help"
)

const (
	deniedCommandText  = "You do not have permission to use this command."
	deniedCallbackText = "You do not have permission to use this option."
	unknownCommandText = "Unknown command. Send /help for the list of commands."
	attemptsShown      = 10
)

type registry interface {
	IsAuthorized(ctx context.Context, chatID int64) (bool, error)
	AddGroup(ctx context.Context, chatID int64, name string) error
	RemoveGroup(ctx context.Context, chatID int64) (bool, error)
	ListGroups(ctx context.Context) ([]domain.AuthorizedGroup, error)
	ListUnauthorizedAttempts(ctx context.Context) ([]domain.UnauthorizedAttempt, error)
}

// Transport is the subset of the Telegram API the commands call.
type Transport interface {
	ChatTitle(ctx context.Context, chatID int64) (string, error)
	LeaveChat(ctx context.Context, chatID int64) error
}

// Stats reports collection counts for /status.
type Stats interface {
	CountGroups(ctx context.Context) (int64, error)
	CountAttempts(ctx context.Context) (int64, error)
}

// Pinger checks the database for /status.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

// Reply is the answer to a command or menu action. Text is always set.
type Reply struct {
	Text string
	// Keyboard holds one button per row; nil means no keyboard.
	Keyboard []Button
	// Denied marks a permission refusal.
	Denied bool
}

// Options carries the optional dependencies of Commands.
type Options struct {
	Stats     Stats
	Pinger    Pinger
	StartedAt time.Time
	Now       func() time.Time
}

// Commands answers administrator commands. Only adminID may use them.
type Commands struct {
	adminID   int64
	registry  registry
	transport Transport
	stats     Stats
	pinger    Pinger
	startedAt time.Time
	now       func() time.Time
	logger    *logrus.Entry
}

// NewCommands constructs the admin command surface.
func NewCommands(adminID int64, registry registry, transport Transport, opts Options, logger *logrus.Entry) *Commands {
	if logger == nil {
		logger = logging.Logger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = opts.Now()
	}

	return &Commands{
		adminID:   adminID,
		registry:  registry,
		transport: transport,
		stats:     opts.Stats,
		pinger:    opts.Pinger,
		startedAt: opts.StartedAt,
		now:       opts.Now,
		logger:    logger,
	}
}

// Known reports whether name is an admin command.
func Known(name string) bool {
	switch name {
	case CommandMenu, CommandListGroups, CommandAddGroup, CommandRemoveGroup,
		CommandListAttempts, CommandStatus, CommandHelp:
		return true
	default:
		return false
	}
}

// Handle runs the named command for userID. Names outside Known get a short
// pointer to /help.
func (c *Commands) Handle(ctx context.Context, userID int64, name string, args []string) Reply {
	if !c.allowed(userID, "command", name) {
		return Reply{Text: deniedCommandText, Denied: true}
	}

	switch name {
	case CommandMenu:
		return c.menu()
	case CommandListGroups:
		return c.listGroups(ctx)
	case CommandAddGroup:
		return c.addGroup(ctx, args)
	case CommandRemoveGroup:
		if len(args) == 0 {
			return c.removePrompt(ctx)
		}
		return c.removeGroup(ctx, args[0])
	case CommandListAttempts:
		return c.listAttempts(ctx)
	case CommandStatus:
		return c.status(ctx)
	case CommandHelp:
		return c.help()
	default:
		return Reply{Text: unknownCommandText}
	}
}

func (c *Commands) allowed(userID int64, kind, name string) bool {
	if c != nil && userID == c.adminID {
		return true
	}

	if c != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "admin_access_denied",
			"user_id": userID,
			"kind":    kind,
			"name":    name,
		}).Warn("unauthorized user attempted an admin action")
	}
	return false
}

func (c *Commands) listGroups(ctx context.Context) Reply {
	groups, err := c.registry.ListGroups(ctx)
	if err != nil {
		c.logError("list_groups_error", err)
		return Reply{Text: "An error occurred while listing the groups."}
	}
	if len(groups) == 0 {
		return Reply{Text: "The bot is not in any authorized group."}
	}

	lines := make([]string, 0, len(groups)+1)
	lines = append(lines, "Currently authorized groups:")
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("- %s (ID: %d)", g.DisplayName(), g.ChatID))
	}
	return Reply{Text: strings.Join(lines, "\n")}
}

func (c *Commands) addGroup(ctx context.Context, args []string) Reply {
	if len(args) == 0 {
		return Reply{Text: "Usage: /add_group <GROUP_ID>"}
	}

	chatID, err := ParseChatID(args[0])
	if err != nil {
		return chatIDProblem(err)
	}

	authorized, err := c.registry.IsAuthorized(ctx, chatID)
	if err != nil {
		c.logError("add_group_error", err)
		return Reply{Text: "An unexpected error occurred."}
	}
	if authorized {
		return Reply{Text: fmt.Sprintf("The group with ID %d is already authorized.", chatID)}
	}

	title, err := c.transport.ChatTitle(ctx, chatID)
	if err != nil {
		c.logError("add_group_lookup_error", err)
		return Reply{Text: "Could not add group. Reason: " + reason(err)}
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = domain.UnknownChatName
	}

	if err := c.registry.AddGroup(ctx, chatID, title); err != nil {
		c.logError("add_group_error", err)
		return Reply{Text: "An unexpected error occurred."}
	}

	c.logger.WithFields(logging.Fields{
		"event":     "admin_group_added",
		"chat_id":   chatID,
		"chat_name": title,
	}).Info("group added by admin")

	return Reply{Text: fmt.Sprintf("Group added: %s (ID: %d)", title, chatID)}
}

func (c *Commands) removePrompt(ctx context.Context) Reply {
	groups, err := c.registry.ListGroups(ctx)
	if err != nil {
		c.logError("list_groups_error", err)
		return Reply{Text: "An error occurred while listing the groups."}
	}
	if len(groups) == 0 {
		return Reply{Text: "No authorized groups to display."}
	}

	buttons := make([]Button, 0, len(groups))
	for _, g := range groups {
		buttons = append(buttons, Button{
			Text: g.DisplayName(),
			Data: CallbackRemovePrefix + strconv.FormatInt(g.ChatID, 10),
		})
	}
	return Reply{Text: "Select a group to remove:", Keyboard: buttons}
}

func (c *Commands) removeGroup(ctx context.Context, raw string) Reply {
	chatID, err := ParseChatID(raw)
	if err != nil {
		return chatIDProblem(err)
	}

	authorized, err := c.registry.IsAuthorized(ctx, chatID)
	if err != nil {
		c.logError("remove_group_error", err)
		return Reply{Text: "An unexpected error occurred."}
	}
	if !authorized {
		return Reply{Text: fmt.Sprintf("The group with ID %d is not authorized.", chatID)}
	}

	if _, err := c.registry.RemoveGroup(ctx, chatID); err != nil {
		c.logError("remove_group_error", err)
		return Reply{Text: "An unexpected error occurred."}
	}

	text := fmt.Sprintf("The group with ID %d has been removed from the authorized list.", chatID)
	entry := c.logger.WithField("chat_id", chatID)

	if err := c.transport.LeaveChat(ctx, chatID); err != nil {
		entry.WithField("event", "admin_leave_error").WithError(err).Error("failed to leave removed group")
		return Reply{Text: text + "\n\nCould not leave group. Reason: " + reason(err)}
	}

	entry.WithField("event", "admin_group_removed").Info("group removed by admin and bot left it")
	return Reply{Text: text}
}

func (c *Commands) listAttempts(ctx context.Context) Reply {
	attempts, err := c.registry.ListUnauthorizedAttempts(ctx)
	if err != nil {
		c.logError("list_attempts_error", err)
		return Reply{Text: "An error occurred while listing unauthorized attempts."}
	}
	if len(attempts) == 0 {
		return Reply{Text: "No unauthorized attempts have been recorded."}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Unauthorized attempts (latest %d shown):", attemptsShown)
	shown := 0
	for i := len(attempts) - 1; i >= 0 && shown < attemptsShown; i-- {
		a := attempts[i]
		fmt.Fprintf(&b, "\n\n- Group: %s (ID: %d)\n  Added by: %s (ID: %d)\n  Date: %s",
			orNA(a.ChatName), a.ChatID,
			orNA(a.AddedByName), a.AddedByID,
			a.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"),
		)
		shown++
	}
	return Reply{Text: b.String()}
}

func (c *Commands) status(ctx context.Context) Reply {
	uptime := c.now().Sub(c.startedAt).Truncate(time.Second)

	mongoState := "ok"
	if c.pinger == nil {
		mongoState = "unknown"
	} else if err := c.pinger.Ping(ctx); err != nil {
		c.logError("status_ping_error", err)
		mongoState = "error"
	}

	groups, attempts := "unavailable", "unavailable"
	if c.stats != nil {
		if n, err := c.stats.CountGroups(ctx); err == nil {
			groups = strconv.FormatInt(n, 10)
		} else {
			c.logError("status_count_error", err)
		}
		if n, err := c.stats.CountAttempts(ctx); err == nil {
			attempts = strconv.FormatInt(n, 10)
		} else {
			c.logError("status_count_error", err)
		}
	}

	lines := []string{
		"Uptime: " + uptime.String(),
		"MongoDB: " + mongoState,
		"Authorized groups: " + groups,
		"Unauthorized attempts: " + attempts,
	}
	return Reply{Text: strings.Join(lines, "\n")}
}

func (c *Commands) help() Reply {
	return Reply{Text: strings.Join([]string{
		"Available commands:",
		"/menu - Displays an interactive menu to manage groups.",
		"/list_groups - Lists all authorized groups.",
		"/add_group <GROUP_ID> - Adds an authorized group.",
		"/remove_group <GROUP_ID> - Removes an authorized group.",
		"/list_attempts - Shows the latest unauthorized attempts.",
		"/status - Shows uptime and storage health.",
		"/help - Displays this help message.",
	}, "\n")}
}

func (c *Commands) logError(event string, err error) {
	c.logger.WithField("event", event).WithError(err).Error("admin command failed")
}

// Chat id validation errors.
var (
	ErrEmptyChatID   = errors.New("chat id is empty")
	ErrInvalidChatID = errors.New("chat id is not numeric")
)

// ParseChatID validates a group id typed by the administrator. Group ids are
// negative; a missing minus sign is added.
func ParseChatID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrEmptyChatID
	}

	digits := strings.TrimPrefix(raw, "-")
	if digits == "" || strings.Trim(digits, "0123456789") != "" {
		return 0, ErrInvalidChatID
	}

	id, err := strconv.ParseInt("-"+digits, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrInvalidChatID
	}
	return id, nil
}

func chatIDProblem(err error) Reply {
	if errors.Is(err, ErrEmptyChatID) {
		return Reply{Text: "Chat ID cannot be empty."}
	}
	return Reply{Text: "Invalid group ID format. Please provide a numeric ID."}
}

// reason extracts the Telegram error text from a wrapped transport error.
func reason(err error) string {
	var te *domain.TransportError
	if errors.As(err, &te) && te.Err != nil {
		return te.Err.Error()
	}
	return err.Error()
}

func orNA(value string) string {
	if strings.TrimSpace(value) == "" {
		return "N/A"
	}
	return value
}
