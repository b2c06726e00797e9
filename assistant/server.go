// Copyright 2025 TableTalk
// SPDX-License-Identifier: BUSL-1.1

package assistant

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"tabletalk/platform/assistant/booking"
	"tabletalk/platform/assistant/llm"
	"tabletalk/platform/assistant/llm/anthropic"
	"tabletalk/platform/assistant/llm/openai"
	"tabletalk/platform/common/usage"
	"tabletalk/platform/config"
	"tabletalk/platform/shared/i18n"
	"tabletalk/platform/shared/logger"
	"tabletalk/platform/shared/tenant"
)

// Server exposes the conversation core over HTTP for the transport
// adapters (web chat, Telegram webhook relay).
type Server struct {
	cfg      *config.Config
	handler  *Handler
	router   *llm.Router
	sessions *MemorySessionStore
	usage    usage.Store
	bundle   *i18n.Bundle
	log      *logger.Logger
}

// NewServer builds the full service from configuration.
func NewServer(cfg *config.Config, exec booking.Executor, gate Gate) (*Server, error) {
	log := logger.New("assistant")
	bundle, err := i18n.Load()
	if err != nil {
		return nil, err
	}

	store, err := buildUsageStore(cfg)
	if err != nil {
		return nil, err
	}

	routerOpts := []llm.RouterOption{
		llm.WithUsageStore(store),
		llm.WithFallbackBundle(bundle),
		llm.WithCallTimeout(cfg.CallTimeout),
		llm.WithBreakerOptions(llm.WithResetTimeout(cfg.BreakerResetTimeout)),
		llm.WithRouterLogger(logger.New("llm-router")),
		llm.WithJSONDefault(AgentConfirmation, map[string]any{"intent": "unclear"}),
		llm.WithJSONDefault(AgentExtraction, map[string]any{}),
	}

	if cfg.OpenAI.APIKey != "" {
		p, err := openai.NewProvider(openai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		})
		if err != nil {
			return nil, err
		}
		routerOpts = append(routerOpts, llm.WithProvider(p))
	}
	if cfg.Anthropic.APIKey != "" {
		p, err := anthropic.NewProvider(anthropic.Config{
			APIKey:  cfg.Anthropic.APIKey,
			BaseURL: cfg.Anthropic.BaseURL,
			Model:   cfg.Anthropic.Model,
		})
		if err != nil {
			return nil, err
		}
		routerOpts = append(routerOpts, llm.WithProvider(p))
	}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open usage database: %w", err)
		}
		routerOpts = append(routerOpts, llm.WithUsageRecorder(usage.NewRecorder(db)))
	}

	router := llm.NewRouter(routerOpts...)
	confirm := NewConfirmationEngine(router, exec, bundle, logger.New("confirmation"))
	translator := NewTranslator(router, logger.New("translator"))
	agent := NewBookingAgent(router, confirm, translator, bundle, logger.New("booking-agent"))
	sessions := NewMemorySessionStore()

	return &Server{
		cfg:      cfg,
		handler:  NewHandler(sessions, agent, confirm, gate, bundle, log),
		router:   router,
		sessions: sessions,
		usage:    store,
		bundle:   bundle,
		log:      log,
	}, nil
}

func buildUsageStore(cfg *config.Config) (usage.Store, error) {
	if cfg.RedisURL == "" {
		return usage.NewMemoryStore(), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return usage.NewRedisStore(redis.NewClient(opts)), nil
}

// Routes builds the HTTP handler with CORS applied.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/v1/sessions", s.createSessionHandler).Methods("POST")
	r.HandleFunc("/api/v1/messages", s.messageHandler).Methods("POST")
	r.HandleFunc("/api/v1/providers/status", s.providerStatusHandler).Methods("GET")
	r.HandleFunc("/api/v1/usage/{tenant_id}", s.usageHandler).Methods("GET")

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type createSessionRequest struct {
	Tenant struct {
		ID            string  `json:"id"`
		Plan          string  `json:"plan"`
		Status        string  `json:"status"`
		PrimaryModel  string  `json:"primary_model"`
		FallbackModel string  `json:"fallback_model"`
		Temperature   float64 `json:"temperature"`
		AIChat        bool    `json:"ai_chat"`
	} `json:"tenant"`
	Language string `json:"language"`
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Tenant.ID == "" {
		writeError(w, http.StatusBadRequest, "tenant.id is required")
		return
	}

	tc, err := tenant.NewContext(req.Tenant.ID, req.Tenant.Plan, tenant.Status(req.Tenant.Status),
		req.Tenant.PrimaryModel, req.Tenant.FallbackModel, req.Tenant.Temperature, req.Tenant.AIChat)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := uuid.NewString()
	s.sessions.Put(NewSession(sessionID, tc, req.Language))
	writeJSON(w, http.StatusCreated, map[string]any{"session_id": sessionID})
}

type messageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "session_id and message are required")
		return
	}

	reply, err := s.handler.HandleMessage(r.Context(), req.SessionID, req.Message)
	if err != nil {
		var denied *tenant.AccessDeniedError
		if errors.As(err, &denied) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) providerStatusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.router.ProviderStatus())
}

func (s *Server) usageHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]
	snapshot, found, err := s.usage.Get(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no usage recorded for tenant")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Run is the exported entry point for the assistant service. It loads
// configuration, wires the components, and blocks serving HTTP.
//
// Environment variables used:
//   - CONFIG_PATH: optional YAML config file
//   - OPENAI_API_KEY / ANTHROPIC_API_KEY: provider credentials
//   - BOOKING_BACKEND_URL: reservation backend base URL
//   - REDIS_URL / DATABASE_URL: optional shared usage stores
func Run() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		stdlog.Fatalf("configuration error: %v", err)
	}
	if cfg.BookingBackendURL == "" {
		stdlog.Fatal("BOOKING_BACKEND_URL is required")
	}

	server, err := NewServer(cfg, booking.NewHTTPExecutor(cfg.BookingBackendURL), nil)
	if err != nil {
		stdlog.Fatalf("failed to build server: %v", err)
	}

	stdlog.Printf("TableTalk assistant listening on %s", cfg.ListenAddr)
	stdlog.Fatal(http.ListenAndServe(cfg.ListenAddr, server.Routes()))
}
