package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foxzi/acme-dns-sidecar/internal/journal"
)

// ReadyFunc reports whether the sidecar has passed its readiness gate
type ReadyFunc func() bool

// JournalReader lists recent reconcile outcomes
type JournalReader interface {
	List(ctx context.Context, filter journal.ListFilter) ([]journal.Entry, error)
}

// ServerOptions configures the metrics HTTP server
type ServerOptions struct {
	Addr       string
	Path       string
	AllowedIPs []string
	Ready      ReadyFunc
	Journal    JournalReader // nil disables /journal
}

// Server serves Prometheus metrics, probes and the journal over HTTP
type Server struct {
	httpServer *http.Server
	metrics    *Metrics
	opts       ServerOptions
	logger     *slog.Logger
	allowed    []netip.Prefix
}

// NewServer creates a new metrics HTTP server
func NewServer(m *Metrics, opts ServerOptions, logger *slog.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = ":9090"
	}
	if opts.Path == "" {
		opts.Path = "/metrics"
	}

	s := &Server{
		metrics: m,
		opts:    opts,
		logger:  logger,
	}

	for _, entry := range opts.AllowedIPs {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, err := parseAllowed(entry)
		if err != nil {
			logger.Warn("invalid entry in allowed_ips", "entry", entry, "error", err)
			continue
		}
		s.allowed = append(s.allowed, prefix)
	}

	if len(s.allowed) > 0 {
		logger.Info("metrics IP filtering enabled", "allowed_networks", len(s.allowed))
	}

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// parseAllowed accepts a CIDR or a single address
func parseAllowed(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(HTTPMiddleware(s.metrics))

	// Probes stay open for the kubelet
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/ready", s.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(s.ipFilterMiddleware)

		r.Handle(s.opts.Path, promhttp.HandlerFor(
			s.metrics.Registry(),
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
			},
		))
		if s.opts.Journal != nil {
			r.Get("/journal", s.handleJournal)
		}
	})

	return r
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready == nil || !s.opts.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	filter := journal.ListFilter{
		Outcome: r.URL.Query().Get("outcome"),
		Secret:  r.URL.Query().Get("secret"),
		Limit:   100,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	entries, err := s.opts.Journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to read journal", "error", err)
		http.Error(w, "failed to read journal", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// ipFilterMiddleware checks if the client IP is allowed
func (s *Server) ipFilterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// If no IPs configured, allow all
		if len(s.allowed) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP, ok := clientAddr(r)
		if !ok {
			s.logger.Warn("could not parse client IP", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if !s.isAllowed(clientIP) {
			s.logger.Warn("metrics access denied", "ip", clientIP.String())
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientAddr extracts the client IP, preferring proxy headers
func clientAddr(r *http.Request) (netip.Addr, bool) {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.Unmap(), true
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr.Unmap(), true
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func (s *Server) isAllowed(addr netip.Addr) bool {
	for _, prefix := range s.allowed {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ListenAndServe starts the metrics HTTP server. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting metrics server", "addr", s.opts.Addr, "path", s.opts.Path)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}
