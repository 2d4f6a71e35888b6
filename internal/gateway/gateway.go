// ABOUTME: Gateway wires the conversation store, upstream client, and coordinator behind an HTTP server
// ABOUTME: Manages server lifecycle, graceful shutdown, and health endpoints

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/chatrelay/internal/config"
	"github.com/2389/chatrelay/internal/conversation"
	"github.com/2389/chatrelay/internal/store"
	"github.com/2389/chatrelay/internal/transcript"
	"github.com/2389/chatrelay/internal/upstream"
)

// Gateway is the chatrelay server.
type Gateway struct {
	config      *config.Config
	store       *store.ConversationStore
	broadcaster *conversation.EventBroadcaster
	sink        conversation.EventSink
	coord       *conversation.Coordinator
	summarizer  *conversation.Summarizer
	limiter     *ipLimiter
	httpServer  *http.Server
	logger      *slog.Logger
}

// New builds a Gateway from cfg: it opens the configured storage backend and
// points the upstream client and transcript source at their configured
// endpoints.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := store.OpenBackend(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	st := store.NewConversationStore(backend, logger)

	up := upstream.New(upstream.Config{
		BaseURL:       cfg.Upstream.BaseURL,
		Model:         cfg.Upstream.Model,
		APIKey:        cfg.Upstream.APIKey,
		SystemPrompt:  cfg.Upstream.SystemPrompt,
		HistoryWindow: cfg.Upstream.HistoryWindow,
		Timeout:       cfg.Upstream.Timeout,
	}, logger)

	source := transcript.NewYTDLPSource(cfg.Summarize.YTDLPPath, cfg.Summarize.DownloadDir, logger)

	return newGateway(cfg, st, up, source, logger), nil
}

// newGateway assembles a Gateway from already-built collaborators.
func newGateway(cfg *config.Config, st *store.ConversationStore, up upstream.Streamer, source transcript.Source, logger *slog.Logger) *Gateway {
	logger = logger.With("component", "gateway")
	broadcaster := conversation.NewEventBroadcaster(logger)
	sink := conversation.NewBroadcastSink(broadcaster)
	coord := conversation.NewCoordinator(st, up, sink, logger)

	gw := &Gateway{
		config:      cfg,
		store:       st,
		broadcaster: broadcaster,
		sink:        sink,
		coord:       coord,
		summarizer:  conversation.NewSummarizer(coord, source, cfg.Summarize.WordsPerChunk, cfg.Summarize.ExcerptChars),
		limiter:     newIPLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		logger:      logger,
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and blocks until ctx is canceled or the server
// fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, cancels running turns and jobs, waits
// for them, and closes storage.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "coordinator shutdown", g.coord.Shutdown(ctx))
	g.broadcaster.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ReadyResponse is the JSON body of GET /health/ready.
type ReadyResponse struct {
	Status         string                     `json:"status"`
	ActiveSessions int                        `json:"active_sessions"`
	Sessions       []conversation.SessionInfo `json:"sessions"`
	Error          string                     `json:"error,omitempty"`
}

// handleReady returns 200 when storage is reachable, along with the
// in-flight sessions.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Status:         "ready",
		ActiveSessions: g.coord.ActiveSessions(),
		Sessions:       g.coord.Sessions(),
	}
	status := http.StatusOK
	if err := g.store.Ping(r.Context()); err != nil {
		resp.Status = "unavailable"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
