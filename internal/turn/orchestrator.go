// Package turn drives one admitted event from placeholder to final reply.
package turn

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"convbridge/internal/admission"
	"convbridge/internal/backend"
	"convbridge/internal/conversation"
	"convbridge/internal/metrics"
	"convbridge/pkg/channel"
	"convbridge/pkg/logger"
)

// ErrDelivery marks failures to post or edit our own messages.
var ErrDelivery = errors.New("delivery failed")

// Classifier decides whether an event is a turn.
type Classifier interface {
	Classify(ctx context.Context, ev channel.InboundEvent) admission.Decision
}

// Locator recovers the conversation id of a thread.
type Locator interface {
	Locate(ctx context.Context, channelID, anchor string) (string, bool)
}

// Asker is the backend answer service.
type Asker interface {
	Ask(ctx context.Context, req backend.Request) (*backend.Answer, error)
}

// Config is fixed at construction.
type Config struct {
	// MonitoredChannel is where direct-message authors are redirected to.
	MonitoredChannel string
	ThinkingText     string
	NewID            conversation.IDGenerator
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Messenger  channel.Messenger
	Classifier Classifier
	Locator    Locator
	Backend    Asker
	Metrics    *metrics.Metrics
}

// Result describes how Handle ended.
type Result struct {
	State          State
	Decision       admission.Decision
	ConversationID string
	PlaceholderTS  string
	Err            error
}

// Orchestrator runs turns. It keeps no state between events and is safe
// for concurrent use.
type Orchestrator struct {
	cfg        Config
	messenger  channel.Messenger
	classifier Classifier
	locator    Locator
	backend    Asker
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.ThinkingText == "" {
		cfg.ThinkingText = DefaultThinkingText
	}
	if cfg.NewID == nil {
		cfg.NewID = conversation.NewID
	}
	return &Orchestrator{
		cfg:        cfg,
		messenger:  deps.Messenger,
		classifier: deps.Classifier,
		locator:    deps.Locator,
		backend:    deps.Backend,
		metrics:    deps.Metrics,
		log:        logger.Component("turn"),
	}
}

// Handle classifies ev and, when admitted, answers it.
func (o *Orchestrator) Handle(ctx context.Context, ev channel.InboundEvent) Result {
	d := o.classifier.Classify(ctx, ev)
	switch d.Verdict {
	case admission.Respond:
		return o.respond(ctx, ev, d)
	case admission.Redirect:
		return o.redirect(ctx, ev, d)
	default:
		return Result{Decision: d}
	}
}

func (o *Orchestrator) redirect(ctx context.Context, ev channel.InboundEvent, d admission.Decision) Result {
	res := Result{Decision: d, State: Delivered}
	reply := channel.OutboundReply{Text: RedirectText(o.cfg.MonitoredChannel)}
	if _, err := o.messenger.PostMessage(ctx, ev.ChannelID, reply); err != nil {
		res.State = Failed
		res.Err = fmt.Errorf("%w: post redirect: %v", ErrDelivery, err)
		o.log.Error().Err(err).Str("channel", ev.ChannelID).Msg("redirect failed")
	}
	o.metrics.TurnFinished(res.State.String())
	return res
}

func (o *Orchestrator) respond(ctx context.Context, ev channel.InboundEvent, d admission.Decision) (res Result) {
	defer o.metrics.TurnStarted()()

	anchor := ev.ThreadAnchor()
	r := &run{
		o:      o,
		ev:     ev,
		anchor: anchor,
		res:    Result{State: Admitted, Decision: d},
		log: o.log.With().
			Str("channel", ev.ChannelID).
			Str("ts", ev.TS).
			Str("thread_ts", anchor).
			Logger(),
	}

	// The placeholder must be released even if the caller gives up.
	relCtx := context.WithoutCancel(ctx)
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("PANIC in turn")
			r.fail(relCtx, fmt.Errorf("internal error: %v", rec))
		}
		o.metrics.TurnFinished(r.res.State.String())
		res = r.res
	}()

	located := ""
	if ev.IsThreadReply() {
		r.to(Locating)
		located = o.locate(ctx, ev, d)
		r.located = located
	}
	minted := ""
	if located == "" {
		minted = o.cfg.NewID()
	}

	r.to(ThinkingPosted)
	ts, err := o.messenger.PostMessage(ctx, ev.ChannelID, channel.OutboundReply{
		Text:     o.cfg.ThinkingText,
		ThreadTS: anchor,
	})
	if err != nil {
		r.fail(relCtx, fmt.Errorf("%w: post placeholder: %v", ErrDelivery, err))
		return
	}
	r.placeholder = ts
	r.res.PlaceholderTS = ts

	r.to(AwaitingBackend)
	ans, err := o.backend.Ask(ctx, backend.Request{
		Text:           d.Text,
		ConversationID: located,
		Context: backend.Context{
			ThreadTS: anchor,
			Channel:  ev.ChannelID,
			User:     ev.UserID,
		},
	})
	if err != nil {
		r.fail(relCtx, err)
		return
	}

	r.to(Composing)
	if located != "" && ans.ConversationID != "" && ans.ConversationID != located {
		r.log.Warn().
			Str("located_id", located).
			Str("backend_id", ans.ConversationID).
			Msg("conversation id overridden by backend")
	}
	id := firstNonEmpty(ans.ConversationID, located, minted)
	r.res.ConversationID = id

	if err := r.resolve(relCtx, conversation.Encode(ans.Text, anchor, id)); err != nil {
		r.fail(relCtx, fmt.Errorf("%w: %v", ErrDelivery, err))
		return
	}
	r.to(Delivered)
	r.log.Info().
		Str("conversation_id", id).
		Int("attempts", ans.Attempts).
		Bool("continued", located != "").
		Msg("turn delivered")
	return
}

func (o *Orchestrator) locate(ctx context.Context, ev channel.InboundEvent, d admission.Decision) string {
	if d.Hint != nil {
		return d.Hint.ConversationID
	}
	if o.locator == nil {
		return ""
	}
	id, _ := o.locator.Locate(ctx, ev.ChannelID, ev.ThreadTS)
	return id
}

// run is the per-turn bookkeeping.
type run struct {
	o           *Orchestrator
	ev          channel.InboundEvent
	anchor      string
	placeholder string // ts of the unreleased placeholder, empty once released
	located     string
	res         Result
	log         zerolog.Logger
}

func (r *run) to(next State) {
	if !canTransition(r.res.State, next) {
		r.log.Error().
			Str("from", r.res.State.String()).
			Str("to", next.String()).
			Msg("invalid turn transition")
	}
	r.log.Debug().
		Str("from", r.res.State.String()).
		Str("to", next.String()).
		Msg("turn transition")
	r.res.State = next
}

// resolve turns the placeholder into reply. If editing fails the
// placeholder is deleted and reply is posted as a new message.
func (r *run) resolve(ctx context.Context, reply channel.OutboundReply) error {
	m := r.o.messenger
	if r.placeholder == "" {
		_, err := m.PostMessage(ctx, r.ev.ChannelID, reply)
		return err
	}

	editErr := m.UpdateMessage(ctx, r.ev.ChannelID, r.placeholder, reply)
	if editErr == nil {
		r.placeholder = ""
		return nil
	}
	r.log.Warn().Err(editErr).Str("placeholder_ts", r.placeholder).Msg("edit placeholder failed, replacing it")

	if err := m.DeleteMessage(ctx, r.ev.ChannelID, r.placeholder); err != nil {
		r.log.Warn().Err(err).Str("placeholder_ts", r.placeholder).Msg("delete placeholder failed")
	} else {
		r.placeholder = ""
	}
	if _, err := m.PostMessage(ctx, r.ev.ChannelID, reply); err != nil {
		return errors.Join(editErr, err)
	}
	return nil
}

// fail moves the turn to Failed and tells the user, best effort.
func (r *run) fail(ctx context.Context, cause error) {
	if r.res.State.Terminal() {
		return
	}
	r.log.Error().Err(cause).
		Str("state", r.res.State.String()).
		Str("kind", string(backend.Classify(cause))).
		Msg("turn failed")
	r.res.Err = cause
	r.to(Failed)

	text := Apology(cause)
	if errors.Is(cause, ErrDelivery) {
		text = apologyDelivery
	}
	// A known conversation stays attached so the thread can still be continued.
	reply := conversation.Encode(text, r.anchor, firstNonEmpty(r.res.ConversationID, r.located))
	if err := r.resolve(ctx, reply); err != nil {
		r.log.Error().Err(err).Msg("could not deliver apology, giving up")
	}
}

func firstNonEmpty(ids ...string) string {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}
