package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"convbridge/internal/backend"
	"convbridge/pkg/channel"
)

var testBot = channel.BotIdentity{UserID: "UBOT", BotID: "BBOT"}

type fakeMessage struct {
	Channel  string
	TS       string
	ThreadTS string
	UserID   string
	Text     string
	BlockID  string
	Deleted  bool
}

// fakeSlack is an in-memory platform: what is posted can be read back as history.
type fakeSlack struct {
	mu   sync.Mutex
	seq  int
	msgs []*fakeMessage

	postErr   func(reply channel.OutboundReply) error
	updateErr error
	deleteErr error
	fetchErr  error

	posts, updates, deletes int
}

func newFakeSlack() *fakeSlack {
	return &fakeSlack{}
}

func (f *fakeSlack) seed(m fakeMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, &m)
}

func (f *fakeSlack) PostMessage(_ context.Context, channelID string, reply channel.OutboundReply) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts++
	if f.postErr != nil {
		if err := f.postErr(reply); err != nil {
			return "", err
		}
	}
	f.seq++
	ts := fmt.Sprintf("%d.000100", 900+f.seq)
	f.msgs = append(f.msgs, &fakeMessage{
		Channel:  channelID,
		TS:       ts,
		ThreadTS: reply.ThreadTS,
		UserID:   testBot.UserID,
		Text:     reply.Text,
		BlockID:  reply.BlockID,
	})
	return ts, nil
}

func (f *fakeSlack) UpdateMessage(_ context.Context, channelID, ts string, reply channel.OutboundReply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	m := f.find(channelID, ts)
	if m == nil {
		return errors.New("message_not_found")
	}
	m.Text = reply.Text
	m.BlockID = reply.BlockID
	return nil
}

func (f *fakeSlack) DeleteMessage(_ context.Context, channelID, ts string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	m := f.find(channelID, ts)
	if m == nil {
		return errors.New("message_not_found")
	}
	m.Deleted = true
	return nil
}

func (f *fakeSlack) FetchThread(_ context.Context, channelID, threadTS string, limit int) ([]channel.HistoryMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []channel.HistoryMessage
	for _, m := range f.msgs {
		if m.Deleted || m.Channel != channelID {
			continue
		}
		if m.TS != threadTS && m.ThreadTS != threadTS {
			continue
		}
		hm := channel.HistoryMessage{UserID: m.UserID, TS: m.TS, Text: m.Text}
		if m.BlockID != "" {
			hm.BlockIDs = []string{m.BlockID}
		}
		out = append(out, hm)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeSlack) Identity() channel.BotIdentity {
	return testBot
}

func (f *fakeSlack) find(channelID, ts string) *fakeMessage {
	for _, m := range f.msgs {
		if m.Channel == channelID && m.TS == ts && !m.Deleted {
			return m
		}
	}
	return nil
}

func (f *fakeSlack) get(channelID, ts string) fakeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if m.Channel == channelID && m.TS == ts {
			return *m
		}
	}
	return fakeMessage{}
}

// live returns the undeleted messages the bot posted.
func (f *fakeSlack) live() []fakeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeMessage
	for _, m := range f.msgs {
		if !m.Deleted && m.UserID == testBot.UserID {
			out = append(out, *m)
		}
	}
	return out
}

// fakeBackend answers with a function of the request.
type fakeBackend struct {
	mu   sync.Mutex
	reqs []backend.Request
	fn   func(req backend.Request) (*backend.Answer, error)
}

func answering(text, id string) *fakeBackend {
	return &fakeBackend{fn: func(backend.Request) (*backend.Answer, error) {
		return &backend.Answer{Text: text, ConversationID: id, Attempts: 1}, nil
	}}
}

func (b *fakeBackend) Ask(_ context.Context, req backend.Request) (*backend.Answer, error) {
	b.mu.Lock()
	b.reqs = append(b.reqs, req)
	b.mu.Unlock()
	return b.fn(req)
}

func (b *fakeBackend) requests() []backend.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.Request(nil), b.reqs...)
}
