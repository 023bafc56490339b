package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot/models"

	"tg_link_relay_bot/internal/domain"
	"tg_link_relay_bot/internal/feature/admin"
	"tg_link_relay_bot/internal/feature/rewrite"
)

func TestSendBuildsReplyParameters(t *testing.T) {
	fb := &fakeBot{}
	tr := NewTransport(fb)

	err := tr.Send(context.Background(), rewrite.Outgoing{
		ChatID:    -100,
		ThreadID:  4,
		ReplyTo:   12,
		Text:      "body",
		ParseMode: "MarkdownV2",
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if len(fb.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(fb.sent))
	}
	p := fb.sent[0]
	if p.ChatID != int64(-100) || p.MessageThreadID != 4 || p.Text != "body" || p.ParseMode != models.ParseModeMarkdown {
		t.Fatalf("unexpected params %+v", p)
	}
	if p.ReplyParameters == nil || p.ReplyParameters.MessageID != 12 || !p.ReplyParameters.AllowSendingWithoutReply {
		t.Fatalf("unexpected reply parameters %+v", p.ReplyParameters)
	}

	if err := tr.Send(context.Background(), rewrite.Outgoing{ChatID: -100, Text: "plain"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if fb.sent[1].ReplyParameters != nil || fb.sent[1].ParseMode != "" {
		t.Fatalf("expected plain message without reply, got %+v", fb.sent[1])
	}
}

func TestTransportWrapsErrors(t *testing.T) {
	cause := errors.New("Forbidden: bot was kicked")
	fb := &fakeBot{sendErr: cause, leaveErr: cause, deleteErr: cause, chatErr: cause}
	tr := NewTransport(fb)
	ctx := context.Background()

	checks := map[string]error{
		"send_text": tr.SendText(ctx, -1, "x"),
		"send":      tr.Send(ctx, rewrite.Outgoing{ChatID: -1}),
		"delete":    tr.DeleteMessage(ctx, -1, 3),
		"leave":     tr.LeaveChat(ctx, -1),
		"reply":     tr.SendReply(ctx, -1, 0, 0, admin.Reply{Text: "x"}),
	}
	_, checks["title"] = tr.ChatTitle(ctx, -1)

	for name, err := range checks {
		var te *domain.TransportError
		if !errors.As(err, &te) {
			t.Fatalf("%s: expected TransportError, got %v", name, err)
		}
		if te.ChatID != -1 || !errors.Is(err, cause) {
			t.Fatalf("%s: unexpected error %+v", name, te)
		}
	}
}

func TestDeleteMessageReportsRefusal(t *testing.T) {
	fb := &fakeBot{deleteOK: false}
	err := NewTransport(fb).DeleteMessage(context.Background(), -1, 9)
	if !domain.IsTransportError(err) {
		t.Fatalf("expected refusal to be an error, got %v", err)
	}

	fb.deleteOK = true
	if err := NewTransport(fb).DeleteMessage(context.Background(), -1, 9); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if fb.deleted[1].MessageID != 9 {
		t.Fatalf("unexpected delete params %+v", fb.deleted[1])
	}
}

func TestCanDeleteMessages(t *testing.T) {
	tests := []struct {
		name   string
		member *models.ChatMember
		want   bool
	}{
		{name: "owner", member: &models.ChatMember{Type: models.ChatMemberTypeOwner}, want: true},
		{
			name: "admin with right",
			member: &models.ChatMember{
				Type:          models.ChatMemberTypeAdministrator,
				Administrator: &models.ChatMemberAdministrator{CanDeleteMessages: true},
			},
			want: true,
		},
		{
			name: "admin without right",
			member: &models.ChatMember{
				Type:          models.ChatMemberTypeAdministrator,
				Administrator: &models.ChatMemberAdministrator{},
			},
		},
		{name: "member", member: &models.ChatMember{Type: models.ChatMemberTypeMember}},
		{name: "missing", member: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBot{me: &models.User{ID: 77}, member: tt.member}
			got, err := NewTransport(fb).CanDeleteMessages(context.Background(), -5)
			if err != nil {
				t.Fatalf("CanDeleteMessages returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			if fb.memberArgs[0].UserID != 77 || fb.memberArgs[0].ChatID != int64(-5) {
				t.Fatalf("unexpected member lookup %+v", fb.memberArgs[0])
			}
		})
	}
}

func TestSelfIsCached(t *testing.T) {
	fb := &fakeBot{meErr: errors.New("unauthorized")}
	tr := NewTransport(fb)

	if _, err := tr.Self(context.Background()); !domain.IsTransportError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}

	fb.meErr = nil
	fb.me = &models.User{ID: 1, Username: "relay_bot"}
	for i := 0; i < 3; i++ {
		self, err := tr.Self(context.Background())
		if err != nil || self.Username != "relay_bot" {
			t.Fatalf("unexpected self %+v err=%v", self, err)
		}
	}
	if fb.getMeHit != 2 {
		t.Fatalf("expected failed lookup to be retried once and then cached, got %d calls", fb.getMeHit)
	}
}

func TestChatTitle(t *testing.T) {
	fb := &fakeBot{chat: &models.ChatFullInfo{Title: " Links "}}
	title, err := NewTransport(fb).ChatTitle(context.Background(), -1)
	if err != nil || title != "Links" {
		t.Fatalf("unexpected title %q err=%v", title, err)
	}
}

func TestSendReplyAttachesKeyboard(t *testing.T) {
	fb := &fakeBot{}
	tr := NewTransport(fb)

	err := tr.SendReply(context.Background(), 10, 0, 3, admin.Reply{
		Text:     "Select an option:",
		Keyboard: []admin.Button{{Text: "List Groups", Data: "list_groups"}, {Text: "Add Group", Data: "add_group_prompt"}},
	})
	if err != nil {
		t.Fatalf("SendReply returned error: %v", err)
	}

	markup, ok := fb.sent[0].ReplyMarkup.(*models.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("expected inline keyboard, got %T", fb.sent[0].ReplyMarkup)
	}
	if len(markup.InlineKeyboard) != 2 || markup.InlineKeyboard[1][0].CallbackData != "add_group_prompt" {
		t.Fatalf("unexpected keyboard %+v", markup.InlineKeyboard)
	}

	if err := tr.EditReply(context.Background(), 10, 8, admin.Reply{Text: "done"}); err != nil {
		t.Fatalf("EditReply returned error: %v", err)
	}
	if fb.edited[0].ReplyMarkup != nil || fb.edited[0].MessageID != 8 {
		t.Fatalf("unexpected edit params %+v", fb.edited[0])
	}
}
