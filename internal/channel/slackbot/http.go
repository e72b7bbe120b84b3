package slackbot

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// maxEventBody caps the Events API request body.
const maxEventBody = 1 << 20

// EventsHandler serves the Events API endpoint. Requests are verified with
// the signing secret; url_verification challenges are echoed back.
func (c *Channel) EventsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		sv, err := slack.NewSecretsVerifier(r.Header, c.config.SigningSecret)
		if err != nil {
			c.log.Warn().Err(err).Msg("slack request without valid signature headers")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := sv.Write(body); err != nil {
			http.Error(w, "verify", http.StatusInternalServerError)
			return
		}
		if err := sv.Ensure(); err != nil {
			c.log.Warn().Err(err).Msg("slack signature mismatch")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
		if err != nil {
			c.log.Warn().Err(err).Msg("unparsable slack event")
			http.Error(w, "bad event", http.StatusBadRequest)
			return
		}

		switch ev.Type {
		case slackevents.URLVerification:
			var challenge slackevents.ChallengeResponse
			if err := json.Unmarshal(body, &challenge); err != nil {
				http.Error(w, "bad challenge", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(challenge.Challenge))
		case slackevents.CallbackEvent:
			if r.Header.Get("X-Slack-Retry-Num") != "" {
				c.log.Debug().
					Str("retry_num", r.Header.Get("X-Slack-Retry-Num")).
					Str("retry_reason", r.Header.Get("X-Slack-Retry-Reason")).
					Msg("slack event redelivery")
			}
			c.handleEventsAPI(r.Context(), ev)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
}
