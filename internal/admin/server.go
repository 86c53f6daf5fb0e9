// Package admin exposes the authenticated HTTP trigger surface: kick off a
// generation run, inspect the run audit trail.
package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"

	inkerrs "inkwell/internal/errors"
	"inkwell/internal/gateway"
	"inkwell/internal/inkwell"
	"inkwell/internal/pipeline"
	"inkwell/internal/serverutil"
)

type (
	// Server handles admin requests. Generation requests block until the
	// run finishes, so the write timeout is sized for a full run.
	Server struct {
		*http.Server

		runner       gateway.Runner
		repo         inkwell.Repository
		secureCookie *securecookie.SecureCookie
		adminToken   string
		defaultCount int
	}

	ServerConfig struct {
		Port           int
		AdminToken     string
		CookieHashKey  []byte
		CookieBlockKey []byte
		CorsHeader     string
		DefaultCount   int
		RunTimeout     time.Duration
	}
)

func NewServer(config ServerConfig, runner gateway.Runner, repo inkwell.Repository) *Server {
	r := serverutil.ErrRouter{Router: mux.NewRouter()}

	srvr := Server{
		runner:       runner,
		repo:         repo,
		secureCookie: securecookie.New(config.CookieHashKey, config.CookieBlockKey),
		adminToken:   config.AdminToken,
		defaultCount: config.DefaultCount,
		Server: &http.Server{
			Addr:        fmt.Sprintf(":%d", config.Port),
			ReadTimeout: 5 * time.Second,
			// Long enough for a generate request to ride out a whole run.
			WriteTimeout: config.RunTimeout + time.Minute,
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{config.CorsHeader}),
				handlers.AllowCredentials(),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type", "authorization"}),
			)(r),
		},
	}

	r.Use(serverutil.AccessLogMiddleware)
	r.Use(srvr.requireAdmin)

	r.HandleFuncE("/admin/generate", srvr.postGenerate).Methods(http.MethodPost)
	r.HandleFuncE("/admin/runs", srvr.getRuns).Methods(http.MethodGet)

	return &srvr
}

// requireAdmin accepts either the shared bearer token or an admin session
// cookie minted by the CMS with the shared securecookie keys.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}

		serverutil.HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error {
			return inkerrs.E("admin credentials required", http.StatusUnauthorized)
		}).ServeHTTP(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) == 1 {
			return true
		}
	}

	cookie, err := r.Cookie("admin_session")
	if err != nil {
		return false
	}
	var session map[string]string
	if err := s.secureCookie.Decode("admin_session", cookie.Value, &session); err != nil {
		return false
	}

	return session["role"] == "admin"
}

type generateReq struct {
	Count int `json:"count"`
}

func (g generateReq) Validate() error {
	if g.Count < 0 {
		return fmt.Errorf("count must not be negative")
	}

	return nil
}

type generateResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) postGenerate(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[generateReq](r.Body)
	if err != nil {
		return inkerrs.E(err, http.StatusBadRequest)
	}

	count := body.Count
	if count == 0 {
		count = s.defaultCount
	}

	res := s.runner.Run(r.Context(), pipeline.Request{
		RequestedBy: "admin-api",
		Mode:        inkwell.ModeAuto,
		Count:       count,
	})
	if errors.Is(res.Err, pipeline.ErrBusy) {
		return inkerrs.E("a run is already in progress", http.StatusConflict)
	}

	return serverutil.WriteJSON(w, http.StatusOK, generateResp{
		Success: res.Status == inkwell.StatusSucceeded,
		Message: res.Summary(),
	})
}

func (s *Server) getRuns(w http.ResponseWriter, r *http.Request) error {
	runs, err := s.repo.Runs(r.Context(), 50)
	if err != nil {
		return inkerrs.E(err, http.StatusInternalServerError)
	}

	return serverutil.WriteJSON(w, http.StatusOK, runs)
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}
