// Package handler contains the HTTP handlers the portal SPA talks to.
package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/kylejryan/claims-agent-portal/internal/agents"
	"github.com/kylejryan/claims-agent-portal/internal/api"
	"github.com/kylejryan/claims-agent-portal/internal/apperror"
	"github.com/kylejryan/claims-agent-portal/internal/authz"
	"github.com/kylejryan/claims-agent-portal/internal/codegen"
	"github.com/kylejryan/claims-agent-portal/internal/httpx"
	"github.com/kylejryan/claims-agent-portal/internal/models"
	"github.com/kylejryan/claims-agent-portal/internal/portal"
	"github.com/kylejryan/claims-agent-portal/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const maxBody = 1 << 20

// Deps are the services behind the handlers.
type Deps struct {
	Sessions     *session.Manager
	Issuer       *authz.Issuer
	Agents       *agents.Service
	Validate     *validator.Validate
	StoreTimeout time.Duration
}

// Handler wraps HTTP handlers with logger and services.
type Handler struct {
	log *zap.Logger
	Deps
}

// New creates a new Handler instance.
func New(log *zap.Logger, d Deps) *Handler {
	return &Handler{log: log, Deps: d}
}

// Router builds the chi router with CORS for origins.
func (h *Handler) Router(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{authz.TokenHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Route("/api", func(r chi.Router) {
		r.Post("/session", h.CreateSession)
		r.Delete("/session", h.EndSession)
		r.Route("/portal", func(r chi.Router) {
			r.Get("/", h.CurrentView)
			r.Post("/login", h.Login)
			r.Post("/logout", h.event(func(*http.Request) (portal.Event, error) { return portal.Logout{}, nil }))
			r.Post("/clients/{clientID}", h.event(func(r *http.Request) (portal.Event, error) {
				id, err := param(r, "clientID")
				return portal.SelectClient{ClientID: id}, err
			}))
			r.Post("/categories/{category}", h.event(func(r *http.Request) (portal.Event, error) {
				c, err := param(r, "category")
				return portal.OpenCategory{Category: c}, err
			}))
			r.Post("/records/{key}", h.event(func(r *http.Request) (portal.Event, error) {
				k, err := param(r, "key")
				return portal.SelectRecord{Key: k}, err
			}))
			r.Post("/modal/report", h.event(func(*http.Request) (portal.Event, error) { return portal.ViewReport{}, nil }))
			r.Post("/modal/photos", h.event(func(*http.Request) (portal.Event, error) { return portal.DownloadPhotos{}, nil }))
			r.Post("/modal/dismiss", h.event(func(*http.Request) (portal.Event, error) { return portal.Dismiss{}, nil }))
			r.Post("/back", h.event(func(*http.Request) (portal.Event, error) { return portal.Back{}, nil }))
		})
		r.Post("/agents", h.CreateAgent)
		r.Post("/agents/forgot-code", h.ForgotCode)
	})
	return r
}

// Healthz is a simple health check endpoint.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type sessionResponse struct {
	Token string      `json:"token"`
	View  portal.View `json:"view"`
}

// CreateSession starts a portal session. A session named by the
// request's cookie is destroyed first, as a page reload would.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if sid, err := h.Issuer.FromRequest(r); err == nil {
		h.Sessions.Destroy(sid)
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()
	e, v := h.Sessions.Create(ctx)
	tok, err := h.Issuer.Issue(e.ID)
	if err != nil {
		h.log.Error("issue session token failed", zap.Error(err))
		h.Sessions.Destroy(e.ID)
		h.writeError(w, http.StatusInternalServerError, "session error")
		return
	}
	h.Issuer.SetCookie(w, tok)
	h.write(w, http.StatusCreated, sessionResponse{Token: tok, View: v})
}

// EndSession destroys the caller's session and expires its cookie.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	if sid, err := h.Issuer.FromRequest(r); err == nil {
		h.Sessions.Destroy(sid)
	}
	h.Issuer.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// CurrentView returns the view of the caller's session.
func (h *Handler) CurrentView(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	h.write(w, http.StatusOK, e.Machine.View(ctx))
}

// Login signs the session in.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if !h.decode(w, r, &creds) {
		return
	}
	h.dispatch(w, r, portal.Login{Email: creds.Email, Password: creds.Password})
}

// CreateAgent registers an agent.
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var reg models.Registration
	if err := h.readJSON(w, r, &reg); err != nil {
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()

	created, err := h.Agents.Create(ctx, reg)
	switch {
	case err == nil:
	case apperror.IsValidation(err):
		h.log.Warn("validation failed", zap.Error(err))
		h.write(w, http.StatusBadRequest, apperror.CustomValidationError(err))
		return
	case errors.Is(err, codegen.ErrCodespaceExhausted):
		h.writeError(w, http.StatusServiceUnavailable, "no agent code available")
		return
	default:
		h.log.Error("create agent failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	h.write(w, http.StatusCreated, api.CreateAgentResponse{Code: created.Code, Upload: created.Upload})
}

// ForgotCode looks up an agent code by email.
func (h *Handler) ForgotCode(w http.ResponseWriter, r *http.Request) {
	var rec models.Recovery
	if err := h.readJSON(w, r, &rec); err != nil {
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()

	code, err := h.Agents.ForgotCode(ctx, rec)
	switch {
	case err == nil:
		h.write(w, http.StatusOK, api.ForgotCodeResponse{Code: code})
	case apperror.IsValidation(err):
		h.write(w, http.StatusBadRequest, apperror.CustomValidationError(err))
	case errors.Is(err, agents.ErrAgentNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error("forgot code failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "db error")
	}
}

// event adapts an event constructor into a handler.
func (h *Handler) event(build func(*http.Request) (portal.Event, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, err := build(r)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid path parameter")
			return
		}
		h.dispatch(w, r, ev)
	}
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, ev portal.Event) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()

	v, err := e.Machine.Dispatch(ctx, ev)
	switch {
	case err == nil:
		h.write(w, http.StatusOK, v)
	case errors.Is(err, portal.ErrInvalidTransition):
		h.log.Info("rejected event", zap.String("sid", e.ID), zap.Error(err))
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, portal.ErrUnknownSelection):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error("dispatch failed", zap.String("sid", e.ID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "portal error")
	}
}

// entry resolves the caller's session or answers 401. The session
// token is renewed as it ages, so an active session keeps a valid one.
func (h *Handler) entry(w http.ResponseWriter, r *http.Request) (*session.Entry, bool) {
	sid, err := h.Issuer.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return nil, false
	}
	e, err := h.Sessions.Get(sid)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "session expired")
		return nil, false
	}
	if _, err := h.Issuer.Renew(w, r); err != nil {
		h.log.Error("renew session token failed", zap.String("sid", sid), zap.Error(err))
	}
	return e, true
}

// decode reads and validates a JSON body, answering 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := h.readJSON(w, r, v); err != nil {
		return false
	}
	if err := h.Validate.Struct(v); err != nil {
		h.log.Warn("validation failed", zap.Error(err))
		h.write(w, http.StatusBadRequest, apperror.CustomValidationError(err))
		return false
	}
	return true
}

func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		h.log.Error("failed to decode json", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "invalid request payload")
		return err
	}
	return nil
}

func (h *Handler) storeCtx(r *http.Request) (context.Context, context.CancelFunc) {
	if h.StoreTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.StoreTimeout)
}

func (h *Handler) write(w http.ResponseWriter, status int, v any) {
	if err := httpx.Write(w, status, v); err != nil {
		h.log.Error("unable to write response stream", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	if err := httpx.WriteError(w, status, msg); err != nil {
		h.log.Error("unable to write response stream", zap.Error(err))
	}
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// param returns the decoded URL parameter. chi routes on RawPath when
// the request has one, and on the already decoded Path otherwise.
func param(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}
