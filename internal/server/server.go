// Package server wires the bridge together: Slack transport, the
// conversation core and the HTTP gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"convbridge/internal/admission"
	"convbridge/internal/backend"
	internalChannel "convbridge/internal/channel"
	"convbridge/internal/channel/slackbot"
	"convbridge/internal/config"
	"convbridge/internal/conversation"
	"convbridge/internal/gateway"
	"convbridge/internal/gateway/handlers"
	"convbridge/internal/metrics"
	"convbridge/internal/turn"
)

// ErrNotStarted is returned by Stop before Start succeeded.
var ErrNotStarted = errors.New("server not started")

// ServerConfig holds configuration for the bridge server.
type ServerConfig struct {
	Config  *config.Config
	Version string
	Logger  zerolog.Logger

	// SlackHTTPClient and BackendHTTPClient override the default clients.
	SlackHTTPClient   *http.Client
	BackendHTTPClient *http.Client
}

// Server is the running bridge.
type Server struct {
	cfg     *config.Config
	version string
	logger  zerolog.Logger

	backendHTTP *http.Client
	metrics     *metrics.Metrics
	slack       *slackbot.Channel
	registry    *internalChannel.Registry
	dispatcher  *turn.Dispatcher
	gateway     *gateway.Server
	listener    net.Listener

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	errChan   chan error
}

// NewServer validates the configuration and creates the transports.
// Nothing touches the network until Start.
func NewServer(sc ServerConfig) (*Server, error) {
	if sc.Config == nil {
		return nil, errors.New("config is required")
	}
	if err := sc.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg := sc.Config

	slack := slackbot.New(slackbot.Config{
		Mode:          cfg.Slack.Mode,
		BotToken:      cfg.Slack.BotToken,
		AppToken:      cfg.Slack.AppToken,
		SigningSecret: cfg.Slack.SigningSecret,
		APIURL:        cfg.Slack.APIURL,
		BotUserID:     cfg.Slack.BotUserID,
		RPS:           cfg.Slack.RateLimit.RPS,
		Burst:         cfg.Slack.RateLimit.Burst,
		Debug:         cfg.Slack.Debug,
		HTTPClient:    sc.SlackHTTPClient,
	})

	registry := internalChannel.NewRegistry()
	registry.Register(slack)

	return &Server{
		cfg:         cfg,
		version:     sc.Version,
		logger:      sc.Logger,
		backendHTTP: sc.BackendHTTPClient,
		metrics:     metrics.New(),
		slack:       slack,
		registry:    registry,
		errChan:     make(chan error, 1),
	}, nil
}

// ErrorChan reports a gateway that stopped serving on its own.
func (s *Server) ErrorChan() <-chan error {
	return s.errChan
}

// Start resolves the bot identity, builds the conversation core, starts the
// transports and the gateway. It returns once everything is listening.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	// Admission and history replay both need the bot's own ids.
	bot, err := s.slack.ResolveIdentity(ctx)
	if err != nil {
		return err
	}

	locator := conversation.NewLocator(conversation.LocatorConfig{
		Fetcher: s.slack,
		Bot:     bot,
		Limit:   s.cfg.Slack.HistoryLimit,
		Metrics: s.metrics,
	})
	classifier := admission.New(admission.Config{
		Bot:              bot,
		MonitoredChannel: s.cfg.Slack.MonitoredChannel,
	}, locator, s.metrics)
	client := backend.NewClient(backend.Config{
		Endpoint:    s.cfg.Backend.Endpoint,
		APIKey:      s.cfg.Backend.APIKey,
		Timeout:     s.cfg.Backend.Timeout,
		MaxAttempts: s.cfg.Backend.MaxAttempts,
		HTTPClient:  s.backendHTTP,
		Metrics:     s.metrics,
	})
	orchestrator := turn.New(turn.Config{
		MonitoredChannel: s.cfg.Slack.MonitoredChannel,
		ThinkingText:     s.cfg.Turn.ThinkingText,
	}, turn.Deps{
		Messenger:  s.slack,
		Classifier: classifier,
		Locator:    locator,
		Backend:    client,
		Metrics:    s.metrics,
	})
	s.dispatcher = turn.NewDispatcher(orchestrator, s.cfg.Turn.MaxConcurrency)
	s.registry.Subscribe(s.dispatcher.Dispatch)

	opts := gateway.Options{
		Version: s.version,
		Metrics: s.metrics.Handler(),
		Checks: []handlers.Check{{Name: "slack", Fn: func() error {
			if s.slack.Identity().UserID == "" {
				return errors.New("bot identity unknown")
			}
			return nil
		}}},
	}
	if s.slack.Mode() == slackbot.ModeHTTP {
		opts.SlackEvents = s.slack.EventsHandler()
	}
	s.gateway = gateway.NewServer(s.cfg.Gateway, opts)

	ln, err := net.Listen("tcp", s.cfg.Gateway.Address())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Gateway.Address(), err)
	}

	if err := s.registry.StartAll(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	s.listener = ln
	go func() {
		if err := s.gateway.Serve(ln); err != nil {
			s.logger.Error().Err(err).Msg("gateway stopped")
			select {
			case s.errChan <- err:
			default:
			}
		}
	}()

	s.running = true
	s.startedAt = time.Now()
	s.logger.Info().
		Str("mode", s.slack.Mode()).
		Str("bot_user_id", bot.UserID).
		Str("monitored_channel", s.cfg.Slack.MonitoredChannel).
		Str("addr", ln.Addr().String()).
		Msg("bridge started")
	return nil
}

// Stop stops intake first, then drains in-flight turns until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotStarted
	}
	s.running = false

	s.logger.Info().Msg("stopping bridge")
	s.dispatcher.Close()

	var errs []error
	if err := s.registry.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.gateway.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.dispatcher.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain turns: %w", err))
	}

	s.logger.Info().Dur("uptime", time.Since(s.startedAt)).Msg("bridge stopped")
	return errors.Join(errs...)
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the gateway listen address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GetStartedAt returns when Start completed.
func (s *Server) GetStartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}
