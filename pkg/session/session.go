// Package session owns the authentication token and current user
// profile, and gates every authorized request behind them.
//
// The token is the single piece of mutable shared state with the
// strictest discipline: read by every authorized request, written only
// by login, logout, restore and teardown. No component outside this
// package reads or writes the token or its persisted copy directly.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/cloudvault/cloudvault-go/internal/metrics"
	"github.com/cloudvault/cloudvault-go/pkg/models"
	"github.com/cloudvault/cloudvault-go/pkg/protocol"
	"github.com/cloudvault/cloudvault-go/pkg/retry"
)

// Store is the session store. Exactly one exists per running client.
type Store struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	tokens      *TokenStore
	log         *zap.Logger

	mu    sync.RWMutex
	token string
	user  *models.User
}

// Config holds session store configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	TokenPath   string // empty = platform default
	Logger      *zap.Logger
}

// New creates a session store. The session starts empty; call Restore
// or one of the login operations to populate it.
func New(cfg Config) *Store {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Store{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		tokens:      NewTokenStore(cfg.TokenPath),
		log:         cfg.Logger,
	}
}

// Token returns the current bearer token, or "" when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Authenticated reports whether a token is present.
func (s *Store) Authenticated() bool {
	return s.Token() != ""
}

// User returns a copy of the current profile, or nil when logged out.
func (s *Store) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// StorageUsed returns the cached quota figure.
func (s *Store) StorageUsed() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return 0
	}
	return s.user.StorageUsed
}

// UpdateStorageUsed corrects the cached quota figure with a
// server-provided value, avoiding a profile round trip.
func (s *Store) UpdateStorageUsed(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user != nil {
		s.user.StorageUsed = bytes
	}
}

func (s *Store) setSession(token string, user *models.User) {
	s.mu.Lock()
	s.token = token
	s.user = user
	s.mu.Unlock()
}

// teardown clears token and user synchronously, plus the persisted
// token. Idempotent. Every caller sees a logged-out session after this
// returns.
func (s *Store) teardown() {
	s.mu.Lock()
	hadToken := s.token != ""
	s.token = ""
	s.user = nil
	s.mu.Unlock()

	if err := s.tokens.Delete(); err != nil {
		s.log.Warn("failed to remove persisted token", zap.Error(err))
	}
	if hadToken {
		s.log.Info("session cleared")
	}
}

// Logout clears token, user and the persisted token. Idempotent.
func (s *Store) Logout() {
	s.teardown()
}

// Restore attempts to resume a persisted session. On success the
// session is populated and true is returned. On any failure, including
// authorization failure, the persisted token is cleared and the session
// stays empty; Restore never returns an error past this boundary.
func (s *Store) Restore(ctx context.Context) bool {
	tf, err := s.tokens.Load()
	if err != nil || tf == nil || tf.Token == "" {
		if err != nil {
			s.log.Warn("unreadable token file", zap.Error(err))
			s.tokens.Delete()
		}
		return false
	}

	s.setSession(tf.Token, nil)
	user, err := s.FetchUser(ctx)
	if err != nil {
		s.log.Info("stored session is no longer valid", zap.Error(err))
		s.teardown()
		return false
	}

	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	return true
}

// FetchUser resolves the current profile from the backend and caches
// it in the session.
func (s *Store) FetchUser(ctx context.Context) (*models.User, error) {
	var resp protocol.MeResponse
	if err := s.Do(ctx, http.MethodGet, "/api/auth/me", nil, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, &Error{Kind: KindServerError, Message: "profile response missing user"}
	}

	s.mu.Lock()
	if s.token != "" {
		s.user = resp.User
	}
	s.mu.Unlock()
	return resp.User, nil
}

// Do issues an authorized JSON request. It fails locally with
// AUTH_REQUIRED when no token is present, and on a 401 response tears
// the session down before surfacing AUTH_REJECTED.
func (s *Store) Do(ctx context.Context, method, path string, body, out any) error {
	token := s.Token()
	if token == "" {
		metrics.ObserveRequest(method, KindAuthRequired.String())
		return &Error{Kind: KindAuthRequired, Message: "not logged in"}
	}

	err := s.doJSON(ctx, method, path, token, body, out)
	if err != nil {
		if IsKind(err, KindAuthRejected) {
			s.teardown()
		}
		metrics.ObserveRequest(method, KindOf(err).String())
		return err
	}
	metrics.ObserveRequest(method, "ok")
	return nil
}

// DoStream issues an authorized request with a caller-built body, used
// for multipart uploads. No retries: the body is consumed in flight.
// Like Do, a 401 response tears the session down before surfacing
// AUTH_REJECTED.
func (s *Store) DoStream(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	token := s.Token()
	if token == "" {
		metrics.ObserveRequest(method, KindAuthRequired.String())
		return &Error{Kind: KindAuthRequired, Message: "not logged in"}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.ObserveRequest(method, KindNetworkUnreachable.String())
		return networkError(err)
	}
	defer resp.Body.Close()

	if err := s.checkResponse(resp, true); err != nil {
		if IsKind(err, KindAuthRejected) {
			s.teardown()
		}
		metrics.ObserveRequest(method, KindOf(err).String())
		return err
	}
	metrics.ObserveRequest(method, "ok")

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// doJSON sends one JSON request, retrying transport errors and 5xx.
func (s *Store) doJSON(ctx context.Context, method, path, token string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	authorized := token != ""

	return retry.Do(ctx, s.retryConfig, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if authorized {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return retry.Retryable(networkError(err))
		}
		defer resp.Body.Close()

		if err := s.checkResponse(resp, authorized); err != nil {
			if IsKind(err, KindServerError) {
				return retry.Retryable(err)
			}
			return err
		}

		if out != nil {
			return json.NewDecoder(resp.Body).Decode(out)
		}
		return nil
	})
}

// checkResponse classifies non-2xx responses, reading the backend's
// {"message": ...} body when present.
func (s *Store) checkResponse(resp *http.Response, authorized bool) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body protocol.ErrorResponse
	json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	return classify(resp.StatusCode, body.Message, authorized)
}

// Login authenticates with email and password. On success the token
// and profile are set atomically and the token is persisted.
//
// Failures are structured: invalid credentials and other backend
// messages surface as VALIDATION, an unactivated account additionally
// carries NeedsActivation (see NeedsActivation), and transport
// failures surface as NETWORK_UNREACHABLE.
func (s *Store) Login(ctx context.Context, email, password string) error {
	var resp protocol.LoginResponse
	err := s.doJSON(ctx, http.MethodPost, "/api/auth/login",
		"", protocol.LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		var se *Error
		if errors.As(err, &se) && se.Kind == KindValidation &&
			strings.Contains(se.Message, "not activated") {
			se.NeedsActivation = true
		}
		return err
	}

	s.completeLogin(resp.Token, resp.User, email)
	return nil
}

// LoginWithGoogle authenticates with a Google identity assertion. The
// profile fields the backend requires are extracted from the assertion
// without verification; validating the credential is the backend's job.
func (s *Store) LoginWithGoogle(ctx context.Context, credential string) error {
	claims, err := googleClaims(credential)
	if err != nil {
		return &Error{Kind: KindValidation, Message: "malformed identity credential", Err: err}
	}

	var resp protocol.LoginResponse
	err = s.doJSON(ctx, http.MethodPost, "/api/auth/google", "", protocol.GoogleLoginRequest{
		Credential: credential,
		Email:      claims.Email,
		FirstName:  claims.GivenName,
		LastName:   claims.FamilyName,
		GoogleID:   claims.Subject,
	}, &resp)
	if err != nil {
		return err
	}

	s.completeLogin(resp.Token, resp.User, claims.Email)
	return nil
}

func (s *Store) completeLogin(token string, user *models.User, email string) {
	s.setSession(token, user)
	err := s.tokens.Save(&TokenFile{
		Token:   token,
		Server:  s.baseURL,
		Email:   email,
		SavedAt: time.Now(),
	})
	if err != nil {
		s.log.Warn("failed to persist token", zap.Error(err))
	}
	s.log.Info("logged in", zap.String("email", email))
}

// googleIDClaims are the fields the backend requires from a Google
// identity assertion.
type googleIDClaims struct {
	Email      string
	GivenName  string
	FamilyName string
	Subject    string
}

func googleClaims(credential string) (*googleIDClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return nil, err
	}
	str := func(key string) string {
		v, _ := claims[key].(string)
		return v
	}
	out := &googleIDClaims{
		Email:      str("email"),
		GivenName:  str("given_name"),
		FamilyName: str("family_name"),
		Subject:    str("sub"),
	}
	if out.Email == "" || out.Subject == "" {
		return nil, fmt.Errorf("credential missing required claims")
	}
	return out, nil
}

// Register creates a new account. Returns the backend's confirmation
// message; the account must be activated before login.
func (s *Store) Register(ctx context.Context, firstName, lastName, email, password string) (string, error) {
	var resp protocol.MessageResponse
	err := s.doJSON(ctx, http.MethodPost, "/api/auth/register", "", protocol.RegisterRequest{
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		Password:  password,
	}, &resp)
	return resp.Message, err
}

// Activate activates an account with an emailed activation token.
func (s *Store) Activate(ctx context.Context, token string) (string, error) {
	var resp protocol.MessageResponse
	err := s.doJSON(ctx, http.MethodGet, "/api/auth/activate/"+token, "", nil, &resp)
	return resp.Message, err
}

// ResendActivation requests a new activation email.
func (s *Store) ResendActivation(ctx context.Context, email string) (string, error) {
	var resp protocol.MessageResponse
	err := s.doJSON(ctx, http.MethodPost, "/api/auth/resend-activation",
		"", protocol.ResendActivationRequest{Email: email}, &resp)
	return resp.Message, err
}

// ForgotPassword requests a password reset email.
func (s *Store) ForgotPassword(ctx context.Context, email string) (string, error) {
	var resp protocol.MessageResponse
	err := s.doJSON(ctx, http.MethodPost, "/api/auth/forgot-password",
		"", protocol.ForgotPasswordRequest{Email: email}, &resp)
	return resp.Message, err
}

// ResetPassword sets a new password using an emailed reset token.
func (s *Store) ResetPassword(ctx context.Context, token, password string) (string, error) {
	var resp protocol.MessageResponse
	err := s.doJSON(ctx, http.MethodPost, "/api/auth/reset-password/"+token,
		"", protocol.ResetPasswordRequest{Password: password}, &resp)
	return resp.Message, err
}

// BaseURL returns the configured backend URL.
func (s *Store) BaseURL() string {
	return s.baseURL
}

// HTTPClient exposes the underlying client for plain (non-API) fetches
// such as short-lived download URLs.
func (s *Store) HTTPClient() *http.Client {
	return s.httpClient
}
