package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"tg_link_relay_bot/internal/domain"
	"tg_link_relay_bot/internal/feature/admin"
	"tg_link_relay_bot/internal/feature/rewrite"
)

// Transport adapts the Telegram Bot API to the feature packages. Every
// failure is returned as a *domain.TransportError.
type Transport struct {
	api botAPI

	mu   sync.Mutex
	self *models.User
}

// NewTransport wraps api.
func NewTransport(api botAPI) *Transport {
	return &Transport{api: api}
}

// Self returns the bot's own user, fetched once and cached.
func (t *Transport) Self(ctx context.Context) (models.User, error) {
	if t == nil || t.api == nil {
		return models.User{}, errors.New("telegram transport is not initialized")
	}

	t.mu.Lock()
	cached := t.self
	t.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	me, err := t.api.GetMe(ctx)
	if err != nil {
		return models.User{}, domain.NewTransportError("get me", 0, err)
	}
	if me == nil {
		return models.User{}, domain.NewTransportError("get me", 0, errors.New("empty response"))
	}

	t.mu.Lock()
	t.self = me
	t.mu.Unlock()
	return *me, nil
}

// SendText sends an unformatted message.
func (t *Transport) SendText(ctx context.Context, chatID int64, text string) error {
	if t == nil || t.api == nil {
		return errors.New("telegram transport is not initialized")
	}

	_, err := t.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	return domain.NewTransportError("send message", chatID, err)
}

// Send delivers a rewrite message. Replies still go out when the original
// has been deleted in the meantime.
func (t *Transport) Send(ctx context.Context, msg rewrite.Outgoing) error {
	if t == nil || t.api == nil {
		return errors.New("telegram transport is not initialized")
	}

	params := &bot.SendMessageParams{
		ChatID:          msg.ChatID,
		MessageThreadID: msg.ThreadID,
		Text:            msg.Text,
		ParseMode:       models.ParseMode(msg.ParseMode),
	}
	if msg.ReplyTo != 0 {
		params.ReplyParameters = &models.ReplyParameters{
			MessageID:                msg.ReplyTo,
			AllowSendingWithoutReply: true,
		}
	}

	_, err := t.api.SendMessage(ctx, params)
	return domain.NewTransportError("send message", msg.ChatID, err)
}

// DeleteMessage deletes a message.
func (t *Transport) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if t == nil || t.api == nil {
		return errors.New("telegram transport is not initialized")
	}

	ok, err := t.api.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	})
	if err == nil && !ok {
		err = errors.New("message was not deleted")
	}
	return domain.NewTransportError("delete message", chatID, err)
}

// LeaveChat makes the bot leave a chat.
func (t *Transport) LeaveChat(ctx context.Context, chatID int64) error {
	if t == nil || t.api == nil {
		return errors.New("telegram transport is not initialized")
	}

	_, err := t.api.LeaveChat(ctx, &bot.LeaveChatParams{ChatID: chatID})
	return domain.NewTransportError("leave chat", chatID, err)
}

// ChatTitle resolves the title of a chat. Chats without a title yield "".
func (t *Transport) ChatTitle(ctx context.Context, chatID int64) (string, error) {
	if t == nil || t.api == nil {
		return "", errors.New("telegram transport is not initialized")
	}

	chat, err := t.api.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
	if err != nil {
		return "", domain.NewTransportError("get chat", chatID, err)
	}
	if chat == nil {
		return "", nil
	}
	return strings.TrimSpace(chat.Title), nil
}

// CanDeleteMessages reports whether the bot may delete other members'
// messages in a chat.
func (t *Transport) CanDeleteMessages(ctx context.Context, chatID int64) (bool, error) {
	self, err := t.Self(ctx)
	if err != nil {
		return false, err
	}

	member, err := t.api.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: chatID,
		UserID: self.ID,
	})
	if err != nil {
		return false, domain.NewTransportError("get chat member", chatID, err)
	}
	if member == nil {
		return false, nil
	}

	switch member.Type {
	case models.ChatMemberTypeOwner:
		return true, nil
	case models.ChatMemberTypeAdministrator:
		return member.Administrator != nil && member.Administrator.CanDeleteMessages, nil
	default:
		return false, nil
	}
}

// SendReply answers an admin command with plain text and an optional
// inline keyboard.
func (t *Transport) SendReply(ctx context.Context, chatID int64, threadID, replyTo int, reply admin.Reply) error {
	if t == nil || t.api == nil {
		return errors.New("telegram transport is not initialized")
	}

	params := &bot.SendMessageParams{
		ChatID:          chatID,
		MessageThreadID: threadID,
		Text:            reply.Text,
	}
	if replyTo != 0 {
		params.ReplyParameters = &models.ReplyParameters{
			MessageID:                replyTo,
			AllowSendingWithoutReply: true,
		}
	}
	if markup := keyboard(reply.Keyboard); markup != nil {
		params.ReplyMarkup = markup
	}

	_, err := t.api.SendMessage(ctx, params)
	return domain.NewTransportError("send message", chatID, err)
}

// EditReply replaces the text and keyboard of a menu message.
func (t *Transport) EditReply(ctx context.Context, chatID int64, messageID int, reply admin.Reply) error {
	if t == nil || t.api == nil {
		return errors.New("telegram transport is not initialized")
	}

	params := &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      reply.Text,
	}
	if markup := keyboard(reply.Keyboard); markup != nil {
		params.ReplyMarkup = markup
	}

	_, err := t.api.EditMessageText(ctx, params)
	return domain.NewTransportError("edit message", chatID, err)
}

// AnswerCallback acknowledges a callback query, optionally with an alert.
func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if t == nil || t.api == nil {
		return errors.New("telegram transport is not initialized")
	}

	_, err := t.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
	return domain.NewTransportError("answer callback", 0, err)
}

func keyboard(buttons []admin.Button) *models.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}

	rows := make([][]models.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []models.InlineKeyboardButton{{Text: b.Text, CallbackData: b.Data}})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
