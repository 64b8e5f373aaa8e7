// Package api exposes the engine over HTTP.
//
// Every reply is a Response envelope. Commands map to POST routes and reply
// 200 with the settled result; domain failures reply with the status from
// StatusFor and the error kind as code.
//
// Actor fields in request bodies are taken as given. A server configured
// with WithAdminToken additionally requires "Authorization: Bearer <token>"
// on admin routes and escrow cancellation.
package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/packsale/internal/engine"
)

// Server serves one engine.
type Server struct {
	engine     *engine.Engine
	logger     *slog.Logger
	adminToken string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithAdminToken requires token as a bearer credential on privileged routes.
// An empty token leaves them open.
func WithAdminToken(token string) Option {
	return func(s *Server) {
		s.adminToken = token
	}
}

// New returns a Server over e. e must be running.
func New(e *engine.Engine, opts ...Option) *Server {
	s := &Server{engine: e, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/quote/{sku}", s.quote)

		r.Route("/packs/{sku}", func(r chi.Router) {
			r.Post("/purchase", s.purchase)
			r.Get("/commitments", s.commitments)
			r.Get("/commitments/{id}", s.commitment)
			r.Post("/commitments/{id}/mint", s.mint)
		})

		r.Route("/chests/{sku}", func(r chi.Router) {
			r.Post("/purchase", s.purchaseChest)
			r.Post("/open", s.open)
		})

		r.Post("/sales", s.purchaseFor)

		r.Route("/escrows/{id}", func(r chi.Router) {
			r.Get("/", s.escrow)
			r.Post("/release", s.releaseEscrow)
			r.With(s.requireAdmin).Post("/cancel", s.cancelEscrow)
		})

		r.Post("/migrations", s.migrate)
		r.Post("/deliveries", s.deliver)

		r.Get("/caps/{family}", s.capState)
		r.Get("/balances/{token}/{holder}", s.balance)
		r.Get("/funds/{holder}", s.funds)
		r.Get("/events", s.events)
		r.Get("/audit", s.audit)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/pause", s.pause)
			r.Post("/sellers", s.sellerApproval)
			r.Post("/signers", s.signerLimit)
			r.Post("/minters", s.minterApproval)
			r.Post("/custodians", s.custodian)
			r.Post("/cap-updaters", s.capUpdaters)
		})
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "admin token required")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
