package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/MrEthical07/fingate"
	"github.com/MrEthical07/fingate/middleware"
	"github.com/MrEthical07/fingate/provider"
)

const maxRequestBody = 64 << 10

type serverOptions struct {
	FX     provider.Fetcher
	Crypto provider.Fetcher
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// PerIPRequests is a coarse per-minute limit in front of every route.
	// Zero disables it.
	PerIPRequests int
	Logger        *slog.Logger
}

type server struct {
	engine  *fingate.Engine
	fx      provider.Fetcher
	crypto  provider.Fetcher
	metrics http.Handler
	perIP   int
	logger  *slog.Logger
}

func newServer(engine *fingate.Engine, opts serverOptions) *server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{
		engine:  engine,
		metrics: opts.Metrics,
		perIP:   opts.PerIPRequests,
		logger:  logger,
	}
	if opts.FX != nil {
		s.fx = provider.NewGuarded(opts.FX, engine)
	}
	if opts.Crypto != nil {
		s.crypto = provider.NewGuarded(opts.Crypto, engine)
	}
	return s
}

func (s *server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Recoverer)
	router.Use(chimw.Timeout(15 * time.Second))
	if s.perIP > 0 {
		router.Use(httprate.Limit(s.perIP, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
	}
	router.Use(middleware.ClientContext)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics)
	}

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)

		r.Post("/otp/request", s.handleOTPRequest)
		r.Post("/otp/verify", s.handleOTPVerify)

		r.Post("/password-reset/request", s.handleResetRequest)
		r.Post("/password-reset/confirm", s.handleResetConfirm)
		r.Post("/password-reset/complete", s.handleResetComplete)
	})

	router.With(middleware.Guard(s.engine)).Get("/me", s.handleMe)

	router.Route("/rates", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.engine, fingate.CallSitePublicRates, middleware.ByClientIP))
		r.Get("/fx", s.handleRate(func() provider.Fetcher { return s.fx }))
		r.Get("/crypto", s.handleRate(func() provider.Fetcher { return s.crypto }))
	})

	return router
}

type credentialsRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func toTokenResponse(pair fingate.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.engine.Register(r.Context(), req.Identifier, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, map[string]int64{"user_id": user.UserID})
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := s.engine.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toTokenResponse(pair))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := s.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toTokenResponse(pair))
}

// handleLogout takes the access token from the Authorization header and
// an optional refresh token from the body.
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	access, _ := middleware.BearerToken(r.Header.Get("Authorization"))
	if err := s.engine.Logout(r.Context(), access, req.RefreshToken); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type otpRequest struct {
	Purpose    fingate.OTPPurpose `json:"purpose"`
	Identifier string             `json:"identifier"`
	Code       string             `json:"code,omitempty"`
}

func (s *server) handleOTPRequest(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	issued, err := s.engine.RequestOTP(r.Context(), req.Purpose, req.Identifier)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, map[string]any{
		"expires_at": issued.ExpiresAt,
		"reused":     issued.Reused,
	})
}

func (s *server) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.VerifyOTP(r.Context(), req.Purpose, req.Identifier, req.Code); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resetRequest struct {
	Identifier  string `json:"identifier"`
	Code        string `json:"code,omitempty"`
	ResetToken  string `json:"reset_token,omitempty"`
	NewPassword string `json:"new_password,omitempty"`
}

// handleResetRequest answers 202 whether or not the account exists.
func (s *server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.RequestPasswordReset(r.Context(), req.Identifier); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	grant, err := s.engine.ConfirmPasswordReset(r.Context(), req.Identifier, req.Code)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"reset_token": grant.Token,
		"expires_at":  grant.ExpiresAt,
	})
}

func (s *server) handleResetComplete(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	outcome, err := s.engine.CompletePasswordReset(r.Context(), req.ResetToken, req.NewPassword)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	res, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, fingate.ErrTokenInvalid)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":    res.UserID,
		"subject":    res.Subject,
		"expires_at": res.ExpiresAt,
	})
}

func (s *server) handleRate(fetcher func() provider.Fetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := fetcher()
		if f == nil {
			middleware.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "provider_not_configured"})
			return
		}
		quote, err := f.FetchLatest(r.Context(), provider.Params{
			Base:   r.URL.Query().Get("base"),
			Symbol: r.URL.Query().Get("symbol"),
		})
		if err != nil {
			s.writeProviderError(w, r, f.Name(), err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, quote)
	}
}

func (s *server) writeProviderError(w http.ResponseWriter, r *http.Request, name string, err error) {
	switch {
	case errors.Is(err, provider.ErrInvalidParams):
		middleware.WriteError(w, fingate.ErrInvalidRequest)
	case errors.Is(err, provider.ErrUnknownSymbol):
		middleware.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "unknown_symbol"})
	case errors.Is(err, fingate.ErrProviderUnavailable):
		middleware.WriteError(w, err)
	default:
		s.logger.WarnContext(r.Context(), "provider call failed",
			slog.String("provider", name),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.Any("err", err),
		)
		middleware.WriteJSON(w, http.StatusBadGateway, map[string]string{"error": "provider_error"})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteError(w, fingate.ErrInvalidRequest)
		return false
	}
	return true
}
