package slackbot

import (
	"context"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// acker acknowledges socket mode envelopes.
type acker interface {
	Ack(req socketmode.Request, payload ...interface{})
}

func (c *Channel) runSocket(ctx context.Context, client *socketmode.Client) {
	defer close(c.done)

	go func() {
		if err := client.RunContext(ctx); err != nil && ctx.Err() == nil {
			c.log.Error().Err(err).Msg("slack socket mode stopped")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-client.Events:
			if !ok {
				return
			}
			c.handleSocketEvent(ctx, client, evt)
		}
	}
}

func (c *Channel) handleSocketEvent(ctx context.Context, ack acker, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		c.log.Debug().Msg("slack socket connecting")
	case socketmode.EventTypeConnected:
		c.log.Info().Msg("slack socket connected")
	case socketmode.EventTypeConnectionError:
		c.log.Warn().Interface("data", evt.Data).Msg("slack socket connection error")
	case socketmode.EventTypeEventsAPI:
		// Ack first: Slack redelivers envelopes not acknowledged within 3s.
		if evt.Request != nil {
			ack.Ack(*evt.Request)
		}
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			c.log.Warn().Msg("unexpected events api payload")
			return
		}
		c.handleEventsAPI(ctx, ev)
	default:
		c.log.Debug().Str("type", string(evt.Type)).Msg("ignoring socket event")
	}
}
