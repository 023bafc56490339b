package telegram

import (
	"context"
	"errors"
	"strings"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_link_relay_bot/internal/dispatch"
	"tg_link_relay_bot/internal/feature/admin"
	"tg_link_relay_bot/internal/feature/membership"
	"tg_link_relay_bot/internal/feature/rewrite"
	"tg_link_relay_bot/internal/logging"
)

type submitter interface {
	Submit(chat dispatch.Chat, name string, task dispatch.Task) (string, error)
}

type membershipHandler interface {
	Handle(ctx context.Context, ev membership.Event) (membership.Outcome, error)
}

type rewriteHandler interface {
	Process(ctx context.Context, msg rewrite.Message) (rewrite.ActionKind, error)
}

type adminHandler interface {
	Handle(ctx context.Context, userID int64, name string, args []string) admin.Reply
	HandleCallback(ctx context.Context, userID int64, data string) admin.Reply
}

type replier interface {
	Self(ctx context.Context) (models.User, error)
	SendReply(ctx context.Context, chatID int64, threadID, replyTo int, reply admin.Reply) error
	EditReply(ctx context.Context, chatID int64, messageID int, reply admin.Reply) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// Router turns Telegram updates into dispatcher tasks keyed by chat.
type Router struct {
	tasks      submitter
	membership membershipHandler
	rewrite    rewriteHandler
	admin      adminHandler
	replies    replier
	logger     *logrus.Entry
}

// RouterDeps lists the handlers a Router feeds.
type RouterDeps struct {
	Tasks      submitter
	Membership membershipHandler
	Rewrite    rewriteHandler
	Admin      adminHandler
	Replies    replier
}

// NewRouter constructs a Router.
func NewRouter(deps RouterDeps, logger *logrus.Entry) *Router {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Router{
		tasks:      deps.Tasks,
		membership: deps.Membership,
		rewrite:    deps.Rewrite,
		admin:      deps.Admin,
		replies:    deps.Replies,
		logger:     logger,
	}
}

// HandleUpdate queues the work for update. It does not wait for the work to
// finish.
func (r *Router) HandleUpdate(_ context.Context, update *models.Update) {
	if r == nil || r.tasks == nil || update == nil {
		return
	}

	switch {
	case update.MyChatMember != nil:
		r.routeMembership(update.MyChatMember)
	case update.CallbackQuery != nil:
		r.routeCallback(update.CallbackQuery)
	case update.Message != nil:
		r.routeMessage(update.Message)
	}
}

func (r *Router) routeMembership(u *models.ChatMemberUpdated) {
	if r.membership == nil {
		return
	}

	ev := membership.Event{
		ChatID:    u.Chat.ID,
		ChatType:  string(u.Chat.Type),
		ChatName:  chatTitle(u.Chat),
		OldStatus: string(u.OldChatMember.Type),
		NewStatus: string(u.NewChatMember.Type),
		ActorID:   u.From.ID,
		ActorName: displayName(&u.From),
	}

	r.submit(dispatch.Chat{ID: ev.ChatID, Name: ev.ChatName}, "membership", func(ctx context.Context) error {
		_, err := r.membership.Handle(ctx, ev)
		return err
	})
}

func (r *Router) routeMessage(msg *models.Message) {
	if strings.HasPrefix(msg.Text, "/") {
		r.routeCommand(msg)
		return
	}
	if r.rewrite == nil {
		return
	}

	senderID, senderName := sender(msg)
	m := rewrite.Message{
		ChatID:     msg.Chat.ID,
		ChatType:   string(msg.Chat.Type),
		ChatName:   chatTitle(msg.Chat),
		MessageID:  msg.ID,
		ThreadID:   threadID(msg),
		SenderID:   senderID,
		SenderName: senderName,
		Text:       msg.Text,
	}

	r.submit(dispatch.Chat{ID: m.ChatID, Name: m.ChatName}, "rewrite", func(ctx context.Context) error {
		_, err := r.rewrite.Process(ctx, m)
		return err
	})
}

func (r *Router) routeCommand(msg *models.Message) {
	name, mention, args := parseCommand(msg.Text)
	if !admin.Known(name) || r.admin == nil || r.replies == nil {
		return
	}

	chat := msg.Chat.ID
	chatName := chatTitle(msg.Chat)
	thread := threadID(msg)
	from := userID(msg.From)
	replyTo := msg.ID

	r.submit(dispatch.Chat{ID: chat, Name: chatName}, "admin_command", func(ctx context.Context) error {
		if mention != "" {
			self, err := r.replies.Self(ctx)
			if err == nil && !strings.EqualFold(self.Username, mention) {
				return nil
			}
		}

		reply := r.admin.Handle(ctx, from, name, args)
		return r.replies.SendReply(ctx, chat, thread, replyTo, reply)
	})
}

func (r *Router) routeCallback(q *models.CallbackQuery) {
	if r.admin == nil || r.replies == nil {
		return
	}

	chat := messageChatID(q.Message)
	menuMessage := messageID(q.Message)
	key := chat
	if key == 0 {
		key = q.From.ID
	}
	callbackID := q.ID
	from := q.From.ID
	data := q.Data

	r.submit(dispatch.Chat{ID: key}, "admin_callback", func(ctx context.Context) error {
		reply := r.admin.HandleCallback(ctx, from, data)
		if reply.Denied {
			return r.replies.AnswerCallback(ctx, callbackID, reply.Text, true)
		}

		answerErr := r.replies.AnswerCallback(ctx, callbackID, "", false)

		var replyErr error
		if chat != 0 && menuMessage != 0 {
			replyErr = r.replies.EditReply(ctx, chat, menuMessage, reply)
		} else {
			replyErr = r.replies.SendReply(ctx, from, 0, 0, reply)
		}
		return errors.Join(answerErr, replyErr)
	})
}

func (r *Router) submit(chat dispatch.Chat, name string, task dispatch.Task) {
	if _, err := r.tasks.Submit(chat, name, task); err != nil {
		r.logger.
			WithFields(logging.Context{ChatID: chat.ID, ChatName: chat.Name, Event: "dispatch_rejected"}.Fields()).
			WithField("task", name).
			WithError(err).Warn("update dropped")
	}
}

// parseCommand splits "/name@bot arg1 arg2" into its parts. The name is
// lower-cased; mention is the bot username after '@', if any.
func parseCommand(text string) (name, mention string, args []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", "", nil
	}

	head := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		mention = head[at+1:]
		head = head[:at]
	}
	return strings.ToLower(head), mention, fields[1:]
}

// sender returns the author of msg. Messages sent on behalf of a chat
// (anonymous admins, linked channels) have no user id.
func sender(msg *models.Message) (int64, string) {
	if msg.SenderChat != nil {
		return 0, chatTitle(*msg.SenderChat)
	}
	if msg.From == nil {
		return 0, ""
	}
	return msg.From.ID, displayName(msg.From)
}

func displayName(user *models.User) string {
	if user == nil {
		return ""
	}

	name := strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))
	if name == "" && user.Username != "" {
		name = "@" + user.Username
	}
	return name
}

func chatTitle(chat models.Chat) string {
	if title := strings.TrimSpace(chat.Title); title != "" {
		return title
	}
	return displayName(&models.User{FirstName: chat.FirstName, LastName: chat.LastName, Username: chat.Username})
}

// threadID keeps forum topics; reply threads in ordinary groups are not
// addressable and are dropped.
func threadID(msg *models.Message) int {
	if msg.IsTopicMessage {
		return msg.MessageThreadID
	}
	return 0
}
