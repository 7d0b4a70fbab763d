// Package server exposes the feedback loop over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/TobiSchelling/feedrank/internal/auth"
	"github.com/TobiSchelling/feedrank/internal/database"
	"github.com/TobiSchelling/feedrank/internal/feedback"
	"github.com/TobiSchelling/feedrank/internal/metrics"
	"github.com/TobiSchelling/feedrank/internal/ratelimit"
)

type feedbackService interface {
	Feedback(ctx context.Context, req feedback.Request) (*feedback.Outcome, error)
	Requeue(ctx context.Context, id string) (*feedback.RequeueOutcome, error)
}

type feedStore interface {
	LatestSnapshot(ctx context.Context) (*database.Snapshot, error)
	Ping(ctx context.Context) error
}

const defaultStorageTimeout = 5 * time.Second

// Deps are the collaborators a Server needs. Verifier and Limiter are
// optional; a nil value disables signing or rate limiting.
//
// Callers are identified by the socket peer address. Only when the peer
// falls inside TrustedProxies is the X-Forwarded-For header consulted.
type Deps struct {
	Store          feedStore
	Feedback       feedbackService
	Verifier       *auth.Verifier
	Limiter        *ratelimit.Store
	Registry       *prometheus.Registry
	Metrics        *metrics.FeedbackMetrics
	Logger         *zap.Logger
	Clock          clockwork.Clock
	Version        string
	StorageTimeout time.Duration
	TrustedProxies []*net.IPNet
}

// Server is the HTTP server for the feedback loop.
type Server struct {
	echo           *echo.Echo
	store          feedStore
	feedback       feedbackService
	verifier       *auth.Verifier
	limiter        *ratelimit.Store
	registry       *prometheus.Registry
	metrics        *metrics.FeedbackMetrics
	logger         *zap.Logger
	clock          clockwork.Clock
	version        string
	storageTimeout time.Duration
	startTime      time.Time
}

// New creates a new Server.
func New(d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = ipExtractor(d.TrustedProxies)

	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Registry == nil {
		d.Registry = metrics.NewRegistry()
	}
	if d.StorageTimeout <= 0 {
		d.StorageTimeout = defaultStorageTimeout
	}

	s := &Server{
		echo:           e,
		store:          d.Store,
		feedback:       d.Feedback,
		verifier:       d.Verifier,
		limiter:        d.Limiter,
		registry:       d.Registry,
		metrics:        d.Metrics,
		logger:         d.Logger,
		clock:          d.Clock,
		version:        d.Version,
		storageTimeout: d.StorageTimeout,
		startTime:      d.Clock.Now(),
	}
	s.registerRoutes()
	return s
}

// ipExtractor ignores forwarding headers unless the peer is a trusted proxy.
func ipExtractor(trusted []*net.IPNet) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range trusted {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// storageContext bounds the storage work of one request.
func (s *Server) storageContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), s.storageTimeout)
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// ListenAndServe serves on host:port until ctx is cancelled, then shuts
// down gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int, readTimeout, writeTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:      s.echo,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", srv.Addr))
		errCh <- s.echo.StartServer(srv)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down server")
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
