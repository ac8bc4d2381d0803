package http

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"poputka/internal/api"
	"poputka/internal/logging"
	"poputka/internal/ws"
)

type Config struct {
	Addr     string
	API      *api.API
	Stream   *ws.Server
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type APIServer struct {
	server *http.Server
	log    *zap.Logger
	wg     sync.WaitGroup
}

func NewAPIServer(config Config) *APIServer {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/chats/partners", config.API.PartnersHandler)
	mux.HandleFunc("GET /api/chats", config.API.HistoryHandler)
	mux.HandleFunc("POST /api/chats", config.API.SendHandler)
	mux.HandleFunc("GET /api/users/{id}", config.API.UserHandler)

	// WebSocket endpoint
	if config.Stream != nil {
		mux.HandleFunc("/api/chats/stream", config.Stream.HandleStream)
	}

	if config.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{}))
	}

	addr := config.Addr
	if addr == "" {
		addr = ":8080"
	}

	log := logging.OrNop(config.Logger).With(zap.String("component", "http"))
	return &APIServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           accessLog(log, mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Handler exposes the routed handler, e.g. for httptest.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Start() error {
	s.log.Info("server started", zap.String("addr", s.server.Addr))
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func accessLog(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}
