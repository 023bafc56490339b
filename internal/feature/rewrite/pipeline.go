// Package rewrite replaces links to configured domains with their mirror
// equivalents in messages posted to authorized groups.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tg_link_relay_bot/internal/linkfix"
	"tg_link_relay_bot/internal/logging"
	"tg_link_relay_bot/internal/render"
)

// fallbackTimeout bounds the plain-text fallback, which runs even when the
// task deadline has already passed.
const fallbackTimeout = 10 * time.Second

// Message is an inbound chat message as seen by the pipeline.
type Message struct {
	ChatID     int64
	ChatType   string
	ChatName   string
	MessageID  int
	ThreadID   int
	SenderID   int64
	SenderName string
	Text       string
}

// Plan is the content computed for a message whose links need rewriting.
type Plan struct {
	Message    Message
	Links      []linkfix.Link
	Correction render.Correction
}

// ActionKind is the outcome of processing a message.
type ActionKind int

const (
	// NoAction means the message was left alone.
	NoAction ActionKind = iota
	// Rewritten means the original was deleted and replaced by an attributed copy.
	Rewritten
	// RepliedInPlace means the corrected links were sent as a reply to the original.
	RepliedInPlace
	// FallbackPlainText means formatted delivery failed and a plain reply was sent.
	FallbackPlainText
)

func (k ActionKind) String() string {
	switch k {
	case Rewritten:
		return "rewritten"
	case RepliedInPlace:
		return "replied_in_place"
	case FallbackPlainText:
		return "fallback_plain_text"
	default:
		return "no_action"
	}
}

// Outgoing is a message to send.
type Outgoing struct {
	ChatID    int64
	ThreadID  int
	ReplyTo   int
	Text      string
	ParseMode string
}

// Action is the set of transport calls that carry out a decision.
type Action struct {
	Kind ActionKind
	// DeleteMessageID is the message to delete before sending, or 0.
	DeleteMessageID int
	Outgoing        Outgoing
}

type authorizer interface {
	IsAuthorized(ctx context.Context, chatID int64) (bool, error)
}

// Transport is the subset of the Telegram API the pipeline calls.
type Transport interface {
	CanDeleteMessages(ctx context.Context, chatID int64) (bool, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	Send(ctx context.Context, msg Outgoing) error
}

// Pipeline evaluates messages and executes the resulting actions.
type Pipeline struct {
	registry   authorizer
	normalizer *linkfix.Normalizer
	transport  Transport
	logger     *logrus.Entry
}

// NewPipeline constructs a Pipeline.
func NewPipeline(registry authorizer, normalizer *linkfix.Normalizer, transport Transport, logger *logrus.Entry) *Pipeline {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Pipeline{
		registry:   registry,
		normalizer: normalizer,
		transport:  transport,
		logger:     logger,
	}
}

// Evaluate applies the chat, text and authorization gates and scans the text
// for links. ok is false when the message needs no action.
func (p *Pipeline) Evaluate(ctx context.Context, msg Message) (Plan, bool, error) {
	if p == nil || p.registry == nil || p.normalizer == nil {
		return Plan{}, false, errors.New("rewrite pipeline is not initialized")
	}
	if msg.ChatType != "group" && msg.ChatType != "supergroup" {
		return Plan{}, false, nil
	}
	if strings.TrimSpace(msg.Text) == "" {
		return Plan{}, false, nil
	}

	authorized, err := p.registry.IsAuthorized(ctx, msg.ChatID)
	if err != nil {
		return Plan{}, false, fmt.Errorf("check authorization: %w", err)
	}
	if !authorized {
		p.entry(ctx, msg).
			WithField("event", "message_unauthorized_group").
			Warn("message received from unauthorized group")
		return Plan{}, false, nil
	}

	plan, ok := BuildPlan(p.normalizer, msg)
	return plan, ok, nil
}

// BuildPlan scans msg for links the normalizer changes. ok is false when no
// link changes.
func BuildPlan(normalizer *linkfix.Normalizer, msg Message) (Plan, bool) {
	var (
		changed    []linkfix.Link
		originals  []string
		normalized []string
	)
	for _, link := range normalizer.Scan(msg.Text) {
		if !link.Changed() {
			continue
		}
		changed = append(changed, link)
		originals = append(originals, link.Original)
		normalized = append(normalized, link.Normalized)
	}
	if len(changed) == 0 {
		return Plan{}, false
	}

	return Plan{
		Message: msg,
		Links:   changed,
		Correction: render.Correction{
			SenderID:   msg.SenderID,
			SenderName: msg.SenderName,
			Body:       render.StripURLs(msg.Text, originals),
			URLs:       normalized,
		},
	}, true
}

// Decide picks the formatted action for plan given the bot's permission to
// delete messages in the chat.
func Decide(plan Plan, canDelete bool) Action {
	msg := plan.Message
	if canDelete {
		return Action{
			Kind:            Rewritten,
			DeleteMessageID: msg.MessageID,
			Outgoing: Outgoing{
				ChatID:    msg.ChatID,
				ThreadID:  msg.ThreadID,
				Text:      render.Attributed(plan.Correction),
				ParseMode: render.ParseModeMarkdownV2,
			},
		}
	}

	return Action{
		Kind: RepliedInPlace,
		Outgoing: Outgoing{
			ChatID:    msg.ChatID,
			ThreadID:  msg.ThreadID,
			ReplyTo:   msg.MessageID,
			Text:      render.InPlace(plan.Correction),
			ParseMode: render.ParseModeMarkdownV2,
		},
	}
}

// Fallback builds the plain-text reply used when formatted delivery fails.
// When the original was already deleted the sender is named and no reply
// reference is set.
func Fallback(plan Plan, deleted bool) Action {
	msg := plan.Message
	out := Outgoing{
		ChatID:   msg.ChatID,
		ThreadID: msg.ThreadID,
		Text:     render.PlainText(plan.Correction, deleted),
	}
	if !deleted {
		out.ReplyTo = msg.MessageID
	}

	return Action{Kind: FallbackPlainText, Outgoing: out}
}

// Process evaluates msg and performs the resulting transport calls.
func (p *Pipeline) Process(ctx context.Context, msg Message) (ActionKind, error) {
	plan, ok, err := p.Evaluate(ctx, msg)
	if err != nil {
		return NoAction, err
	}
	if !ok {
		return NoAction, nil
	}
	if p.transport == nil {
		return NoAction, errors.New("rewrite transport is not configured")
	}

	entry := p.entry(ctx, msg).WithFields(logging.Fields{
		"message_id": msg.MessageID,
		"links":      len(plan.Links),
	})

	canDelete, err := p.transport.CanDeleteMessages(ctx, msg.ChatID)
	if err != nil {
		return p.fallback(ctx, entry, plan, false, fmt.Errorf("check delete permission: %w", err))
	}

	action := Decide(plan, canDelete)
	if !canDelete {
		entry.WithField("event", "delete_permission_missing").Warn("bot lacks permission to delete messages")
	}

	if render.Length(action.Outgoing.Text) > render.MaxMessageLength {
		return p.fallback(ctx, entry, plan, false, fmt.Errorf("correction exceeds %d characters", render.MaxMessageLength))
	}

	deleted := false
	if action.DeleteMessageID != 0 {
		if err := p.transport.DeleteMessage(ctx, msg.ChatID, action.DeleteMessageID); err != nil {
			return p.fallback(ctx, entry, plan, false, fmt.Errorf("delete original: %w", err))
		}
		deleted = true
	}

	if err := p.transport.Send(ctx, action.Outgoing); err != nil {
		return p.fallback(ctx, entry, plan, deleted, fmt.Errorf("send correction: %w", err))
	}

	entry.WithFields(logging.Fields{
		"event":  "message_corrected",
		"action": action.Kind.String(),
	}).Info("corrected links in message")

	return action.Kind, nil
}

func (p *Pipeline) entry(ctx context.Context, msg Message) *logrus.Entry {
	return p.logger.WithFields(logging.Context{
		ChatID:   msg.ChatID,
		ChatName: msg.ChatName,
		TaskID:   logging.TaskID(ctx),
	}.Fields())
}

func (p *Pipeline) fallback(ctx context.Context, entry *logrus.Entry, plan Plan, deleted bool, cause error) (ActionKind, error) {
	entry.WithFields(logging.Fields{
		"event":   "message_correction_fallback",
		"deleted": deleted,
	}).WithError(cause).Warn("formatted delivery failed, sending plain text")

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fallbackTimeout)
	defer cancel()

	action := Fallback(plan, deleted)
	if err := p.transport.Send(sendCtx, action.Outgoing); err != nil {
		return FallbackPlainText, errors.Join(cause, fmt.Errorf("send plain text fallback: %w", err))
	}

	return FallbackPlainText, nil
}
