// Package web provides the JSON HTTP API of the CRM.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/asd12288/meydacrm/internal/auth"
	"github.com/asd12288/meydacrm/internal/banner"
	"github.com/asd12288/meydacrm/internal/cache"
	"github.com/asd12288/meydacrm/internal/comment"
	"github.com/asd12288/meydacrm/internal/email"
	"github.com/asd12288/meydacrm/internal/history"
	"github.com/asd12288/meydacrm/internal/jobs"
	"github.com/asd12288/meydacrm/internal/lead"
	"github.com/asd12288/meydacrm/internal/logging"
	"github.com/asd12288/meydacrm/internal/metrics"
	"github.com/asd12288/meydacrm/internal/realtime"
	"github.com/asd12288/meydacrm/internal/ticket"
)

// Config holds the settings the HTTP layer needs.
type Config struct {
	BaseURL  string // e.g. http://localhost:8080
	DevMode  bool
	StatsTTL time.Duration
}

// Services are the optional collaborators of the server. Nil fields get
// in-process defaults.
type Services struct {
	Cache    cache.Cache
	Geocoder lead.Geocoder
	Mailer   email.Sender
	Metrics  *metrics.Metrics
}

// Server is the CRM HTTP API.
type Server struct {
	db      *sqlx.DB
	cfg     Config
	handler http.Handler

	authn    *auth.Authenticator
	profiles *auth.ProfileStore
	sessions *auth.SessionStore
	tokens   *auth.TokenStore
	apiKeys  *auth.APIKeyStore
	limiter  *auth.FailureLimiter

	leads    *lead.Service
	comments *comment.Repository
	history  *history.Repository
	tickets  *ticket.Service
	banners  *banner.Repository
	geocoder lead.Geocoder
	cache    cache.Cache

	hub     *realtime.Hub
	metrics *metrics.Metrics
	mailer  email.Sender

	passkeys *passkeyHandlers
	now      func() time.Time
}

// NewServer wires the stores and services over db and builds the router.
func NewServer(db *sqlx.DB, cfg Config, svc Services) (*Server, error) {
	if svc.Metrics == nil {
		svc.Metrics = metrics.New()
	}
	if svc.Cache == nil {
		svc.Cache = cache.NewMemory()
	}
	if svc.Mailer == nil {
		svc.Mailer = email.Log{}
	}
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = time.Minute
	}

	hub := realtime.NewHub(
		realtime.WithLogger(log.Logger),
		realtime.WithClientGauge(svc.Metrics.WebsocketClients),
	)

	s := &Server{
		db:       db,
		cfg:      cfg,
		profiles: auth.NewProfileStore(db),
		sessions: auth.NewSessionStore(db, !cfg.DevMode),
		tokens:   auth.NewTokenStore(db),
		apiKeys:  auth.NewAPIKeyStore(db),
		limiter:  auth.NewFailureLimiter(rate.Every(6*time.Second), 10),
		history:  history.NewRepository(db),
		banners:  banner.NewRepository(db, hub),
		geocoder: svc.Geocoder,
		cache:    svc.Cache,
		hub:      hub,
		metrics:  svc.Metrics,
		mailer:   svc.Mailer,
		now:      time.Now,
	}
	s.authn = &auth.Authenticator{
		Sessions: s.sessions,
		APIKeys:  s.apiKeys,
		Profiles: s.profiles,
		Limiter:  s.limiter,
	}

	leadOpts := []lead.Option{
		lead.WithCache(cache.Instrument(svc.Cache, "stats", svc.Metrics.CacheRequests), cfg.StatsTTL),
		lead.WithPublisher(hub),
		lead.WithAssignedCounter(svc.Metrics.LeadsAssigned),
	}
	if svc.Geocoder != nil {
		leadOpts = append(leadOpts, lead.WithGeocoder(svc.Geocoder))
	}
	s.leads = lead.NewService(db, leadOpts...)
	s.comments = comment.NewRepository(db, s.leads)
	s.tickets = ticket.NewService(db,
		ticket.WithMailer(svc.Mailer, cfg.BaseURL),
		ticket.WithPublisher(hub),
	)

	pk, err := newPasskeyHandlers(cfg.BaseURL, auth.NewPasskeyStore(db), s.sessions, s.profiles)
	if err != nil {
		return nil, fmt.Errorf("configuring passkeys: %w", err)
	}
	s.passkeys = pk

	s.handler = logging.RequestLogger(s.routes())
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.metrics.Middleware)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		apiError(w, "Ressource introuvable", http.StatusNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		apiError(w, "Méthode non autorisée", http.StatusMethodNotAllowed)
	})

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.Handle("/ws", s.authn.Require(http.HandlerFunc(s.hub.ServeWS))).Methods(http.MethodGet)

	// Unauthenticated auth flows.
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/auth/cli", s.handleCLILogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/password/forgot", s.handleForgotPassword).Methods(http.MethodPost)
	r.HandleFunc("/auth/password/reset", s.handleResetPassword).Methods(http.MethodPost)
	r.HandleFunc("/auth/passkey/login/begin", s.passkeys.handleBeginLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/passkey/login/finish", s.passkeys.handleFinishLogin).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authn.Require)
	admin := func(h http.HandlerFunc) http.Handler { return auth.RequireAdmin(h) }

	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)

	api.HandleFunc("/passkeys", s.passkeys.handleList).Methods(http.MethodGet)
	api.HandleFunc("/passkeys/register/begin", s.passkeys.handleBeginRegistration).Methods(http.MethodPost)
	api.HandleFunc("/passkeys/register/finish", s.passkeys.handleFinishRegistration).Methods(http.MethodPost)
	api.HandleFunc("/passkeys/{id}", s.passkeys.handleDelete).Methods(http.MethodDelete)

	api.HandleFunc("/keys", s.handleListKeys).Methods(http.MethodGet)
	api.HandleFunc("/keys", s.handleCreateKey).Methods(http.MethodPost)
	api.HandleFunc("/keys/{id:[0-9]+}", s.handleDeleteKey).Methods(http.MethodDelete)

	api.HandleFunc("/profiles/assignable", s.handleAssignableProfiles).Methods(http.MethodGet)
	api.Handle("/profiles", admin(s.handleListProfiles)).Methods(http.MethodGet)
	api.Handle("/profiles", admin(s.handleCreateProfile)).Methods(http.MethodPost)
	api.Handle("/profiles/{id:[0-9]+}", admin(s.handleUpdateProfile)).Methods(http.MethodPatch)

	api.HandleFunc("/leads", s.handleListLeads).Methods(http.MethodGet)
	api.HandleFunc("/leads", s.handleCreateLead).Methods(http.MethodPost)
	api.HandleFunc("/leads/board", s.handleBoard).Methods(http.MethodGet)
	api.HandleFunc("/leads/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/leads/export.csv", s.handleExport).Methods(http.MethodGet)
	api.Handle("/leads/trash", admin(s.handleTrash)).Methods(http.MethodGet)
	api.Handle("/leads/bulk", admin(s.handleBulk)).Methods(http.MethodPost)
	api.Handle("/leads/import", admin(s.handleImport)).Methods(http.MethodPost)
	api.HandleFunc("/leads/{id:[0-9]+}", s.handleGetLead).Methods(http.MethodGet)
	api.HandleFunc("/leads/{id:[0-9]+}", s.handleUpdateLead).Methods(http.MethodPatch)
	api.Handle("/leads/{id:[0-9]+}", admin(s.handleDeleteLead)).Methods(http.MethodDelete)
	api.HandleFunc("/leads/{id:[0-9]+}/status", s.handleMoveStatus).Methods(http.MethodPost)
	api.Handle("/leads/{id:[0-9]+}/assign", admin(s.handleAssignLead)).Methods(http.MethodPost)
	api.Handle("/leads/{id:[0-9]+}/restore", admin(s.handleRestoreLead)).Methods(http.MethodPost)
	api.HandleFunc("/leads/{id:[0-9]+}/geocode", s.handleGeocodeLead).Methods(http.MethodPost)
	api.HandleFunc("/leads/{id:[0-9]+}/history", s.handleLeadHistory).Methods(http.MethodGet)
	api.HandleFunc("/leads/{id:[0-9]+}/comments", s.handleListComments).Methods(http.MethodGet)
	api.HandleFunc("/leads/{id:[0-9]+}/comments", s.handleAddComment).Methods(http.MethodPost)
	api.HandleFunc("/comments/{id:[0-9]+}", s.handleUpdateComment).Methods(http.MethodPatch)
	api.HandleFunc("/comments/{id:[0-9]+}", s.handleDeleteComment).Methods(http.MethodDelete)
	api.Handle("/history", admin(s.handleRecentHistory)).Methods(http.MethodGet)

	api.HandleFunc("/tickets", s.handleListTickets).Methods(http.MethodGet)
	api.HandleFunc("/tickets", s.handleCreateTicket).Methods(http.MethodPost)
	api.HandleFunc("/tickets/{id:[0-9]+}", s.handleGetTicket).Methods(http.MethodGet)
	api.HandleFunc("/tickets/{id:[0-9]+}/comments", s.handleTicketComment).Methods(http.MethodPost)
	api.HandleFunc("/tickets/{id:[0-9]+}/status", s.handleTicketStatus).Methods(http.MethodPost)
	api.Handle("/tickets/{id:[0-9]+}/assign", admin(s.handleTicketAssign)).Methods(http.MethodPost)

	api.HandleFunc("/banners", s.handleActiveBanners).Methods(http.MethodGet)
	api.HandleFunc("/banners/{id:[0-9]+}/dismiss", s.handleDismissBanner).Methods(http.MethodPost)
	api.Handle("/banners/all", admin(s.handleListBanners)).Methods(http.MethodGet)
	api.Handle("/banners", admin(s.handleCreateBanner)).Methods(http.MethodPost)
	api.Handle("/banners/{id:[0-9]+}", admin(s.handleUpdateBanner)).Methods(http.MethodPatch)
	api.Handle("/banners/{id:[0-9]+}", admin(s.handleDeleteBanner)).Methods(http.MethodDelete)
	api.Handle("/banners/{id:[0-9]+}/active", admin(s.handleSetBannerActive)).Methods(http.MethodPost)

	api.HandleFunc("/geocode", s.handleGeocode).Methods(http.MethodGet)

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Maintenance returns the housekeeping jobs backed by this server's stores.
// The cache is swept only when it lives in process; Redis expires keys
// itself.
func (s *Server) Maintenance(retention time.Duration) jobs.Maintenance {
	m := jobs.Maintenance{
		Sessions:       s.sessions,
		ResetTokens:    s.tokens,
		Limiter:        s.limiter,
		Banners:        s.banners,
		Leads:          s.leads,
		TrashRetention: retention,
	}
	if sw, ok := s.cache.(jobs.Sweeper); ok {
		m.Cache = sw
	}
	return m
}

// Metrics returns the server's metrics registry.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// ListenAndServe serves on addr until ctx is cancelled, then drains
// connections and disconnects websocket clients.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return log.Logger.WithContext(context.Background()) },
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("base_url", s.cfg.BaseURL).Msg("starting CRM server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("health check failed")
		apiJSON(w, map[string]string{"status": "unavailable"}, http.StatusServiceUnavailable)
		return
	}
	apiJSON(w, map[string]interface{}{"status": "ok", "ws_clients": s.hub.Len()}, http.StatusOK)
}
