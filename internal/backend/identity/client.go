package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"velgo-hub/client-core/internal/contracts"
	"velgo-hub/client-core/internal/securestore"
	"velgo-hub/client-core/pkg/models"
)

type EventType string

const (
	EventSignedIn         EventType = "signed-in"
	EventSignedOut        EventType = "signed-out"
	EventTokenRefreshed   EventType = "token-refreshed"
	EventPasswordRecovery EventType = "password-recovery"
)

// Event mirrors the identity provider's auth-state-change feed. Session is
// nil only for signed-out.
type Event struct {
	Type    EventType
	Session *models.Session
}

var ErrInvalidCredentials = errors.New("invalid email or password")

type Config struct {
	BaseURL string
	AnonKey string

	// SessionPath/SessionSecret configure the encrypted on-disk session
	// projection. Empty values disable persistence (tests).
	SessionPath   string
	SessionSecret string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client consumes the hosted identity provider. It owns the only live
// Session per client instance and publishes auth-state changes on Events.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
	logger  *slog.Logger

	sessionPath   string
	sessionSecret string

	mu      sync.Mutex
	current *models.Session
	events  chan Event
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		anonKey:       cfg.AnonKey,
		http:          httpClient,
		logger:        logger,
		sessionPath:   cfg.SessionPath,
		sessionSecret: cfg.SessionSecret,
		events:        make(chan Event, 16),
	}
}

func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) Session() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// CurrentSession restores the persisted session, refreshing it when the
// access token is at or past expiry. (nil, nil) means "no session" and is
// not an error.
func (c *Client) CurrentSession(ctx context.Context) (*models.Session, error) {
	stored, err := c.loadPersisted()
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}
	if stored.Live(time.Now().Add(30 * time.Second)) {
		c.setSession(stored)
		return stored, nil
	}
	session, err := c.refresh(ctx, stored.RefreshToken)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) error {
	payload := map[string]string{"email": email, "password": password}
	session, err := c.tokenRequest(ctx, "password", payload)
	if err != nil {
		return err
	}
	c.setSession(session)
	if err := c.persist(session); err != nil {
		c.logger.Warn("session persistence failed", "error", err.Error())
	}
	c.emit(Event{Type: EventSignedIn, Session: session})
	return nil
}

func (c *Client) SignOut(ctx context.Context) error {
	session := c.Session()
	if session != nil {
		req, err := c.newRequest(ctx, http.MethodPost, "/auth/v1/logout", nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+session.AccessToken)
			if resp, err := c.http.Do(req); err == nil {
				_ = resp.Body.Close()
			}
		}
	}
	c.setSession(nil)
	c.clearPersisted()
	c.emit(Event{Type: EventSignedOut})
	return nil
}

func (c *Client) UpdatePassword(ctx context.Context, newPassword string) error {
	session := c.Session()
	if session == nil {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryAuth, errors.New("no active session"))
	}
	body, _ := json.Marshal(map[string]string{"password": newPassword})
	req, err := c.newRequest(ctx, http.MethodPut, "/auth/v1/user", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	resp, err := c.http.Do(req)
	if err != nil {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryAuth, apiError(resp))
	}
	return nil
}

// VerifyRecovery exchanges an out-of-band recovery token for a session and
// raises password-recovery. The event is a hard interrupt for the session
// monitor: it always wins over the current screen.
func (c *Client) VerifyRecovery(ctx context.Context, token string) error {
	body, _ := json.Marshal(map[string]string{"type": "recovery", "token": token})
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/v1/verify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryAuth, apiError(resp))
	}
	session, err := decodeSession(resp.Body)
	if err != nil {
		return err
	}
	c.setSession(session)
	if err := c.persist(session); err != nil {
		c.logger.Warn("session persistence failed", "error", err.Error())
	}
	c.emit(Event{Type: EventPasswordRecovery, Session: session})
	return nil
}

// RunAutoRefresh refreshes the access token shortly before expiry and emits
// token-refreshed events until the context is cancelled.
func (c *Client) RunAutoRefresh(ctx context.Context) {
	for {
		session := c.Session()
		wait := time.Minute
		if session != nil && !session.ExpiresAt.IsZero() {
			wait = time.Until(session.ExpiresAt.Add(-time.Minute))
			if wait < 5*time.Second {
				wait = 5 * time.Second
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		session = c.Session()
		if session == nil {
			continue
		}
		if session.Live(time.Now().Add(2 * time.Minute)) {
			continue
		}
		if _, err := c.refresh(ctx, session.RefreshToken); err != nil {
			c.logger.Warn("token refresh failed", "error", err.Error())
		}
	}
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, contracts.WrapCategorizedError(contracts.ErrorCategoryAuth, errors.New("no refresh token"))
	}
	payload := map[string]string{"refresh_token": refreshToken}
	session, err := c.tokenRequest(ctx, "refresh_token", payload)
	if err != nil {
		return nil, err
	}
	c.setSession(session)
	if err := c.persist(session); err != nil {
		c.logger.Warn("session persistence failed", "error", err.Error())
	}
	c.emit(Event{Type: EventTokenRefreshed, Session: session})
	return session, nil
}

func (c *Client) tokenRequest(ctx context.Context, grant string, payload map[string]string) (*models.Session, error) {
	body, _ := json.Marshal(payload)
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/v1/token?grant_type="+grant, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, contracts.WrapCategorizedError(contracts.ErrorCategoryNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return nil, contracts.WrapCategorizedError(contracts.ErrorCategoryAuth, ErrInvalidCredentials)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, contracts.WrapCategorizedError(contracts.ErrorCategoryAuth, apiError(resp))
	}
	return decodeSession(resp.Body)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	return req, nil
}

func (c *Client) setSession(session *models.Session) {
	c.mu.Lock()
	c.current = session
	c.mu.Unlock()
}

func (c *Client) emit(event Event) {
	select {
	case c.events <- event:
	default:
		c.logger.Warn("auth event dropped, consumer too slow", "event", string(event.Type))
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func decodeSession(r io.Reader) (*models.Session, error) {
	var parsed tokenResponse
	if err := json.NewDecoder(r).Decode(&parsed); err != nil {
		return nil, contracts.WrapCategorizedError(contracts.ErrorCategoryAuth, err)
	}
	if parsed.AccessToken == "" {
		return nil, contracts.WrapCategorizedError(contracts.ErrorCategoryAuth, errors.New("token response has no access token"))
	}
	session := &models.Session{
		UserID:       parsed.User.ID,
		Email:        parsed.User.Email,
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
	}
	if parsed.ExpiresIn > 0 {
		session.ExpiresAt = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	}
	fillFromClaims(session)
	if session.UserID == "" {
		return nil, contracts.WrapCategorizedError(contracts.ErrorCategoryAuth, errors.New("token response has no user id"))
	}
	return session, nil
}

// fillFromClaims backfills identity metadata from the access token when the
// provider omits the user block. Signature verification is the provider's
// job; the daemon only reads claims it received over TLS.
func fillFromClaims(session *models.Session) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(session.AccessToken, claims); err != nil {
		return
	}
	if session.UserID == "" {
		if sub, err := claims.GetSubject(); err == nil {
			session.UserID = sub
		}
	}
	if session.Email == "" {
		if email, ok := claims["email"].(string); ok {
			session.Email = email
		}
	}
	if session.ExpiresAt.IsZero() {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			session.ExpiresAt = exp.Time
		}
	}
}

type persistedSession struct {
	Version int             `json:"version"`
	Session *models.Session `json:"session"`
	Tokens  struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	} `json:"tokens"`
}

func (c *Client) persist(session *models.Session) error {
	if !securestore.IsStorageConfigured(c.sessionPath, c.sessionSecret) {
		return nil
	}
	state := persistedSession{Version: 1, Session: session}
	state.Tokens.Access = session.AccessToken
	state.Tokens.Refresh = session.RefreshToken
	return securestore.WriteEncryptedJSON(c.sessionPath, c.sessionSecret, state)
}

func (c *Client) loadPersisted() (*models.Session, error) {
	if !securestore.IsStorageConfigured(c.sessionPath, c.sessionSecret) {
		return nil, nil
	}
	raw, err := securestore.ReadDecryptedFile(c.sessionPath, c.sessionSecret)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, contracts.WrapCategorizedError(contracts.ErrorCategoryStorage, err)
	}
	var state persistedSession
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, contracts.WrapCategorizedError(contracts.ErrorCategoryStorage, err)
	}
	if state.Version != 1 || state.Session == nil {
		return nil, contracts.WrapCategorizedError(contracts.ErrorCategoryStorage, errors.New("session persistence payload is invalid"))
	}
	state.Session.AccessToken = state.Tokens.Access
	state.Session.RefreshToken = state.Tokens.Refresh
	return state.Session, nil
}

func (c *Client) clearPersisted() {
	if c.sessionPath == "" {
		return
	}
	_ = securestore.RemoveStorageFile(c.sessionPath)
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
		Error   string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, msg := range []string{parsed.Message, parsed.Msg, parsed.Error} {
			if msg != "" {
				return errors.New(msg)
			}
		}
	}
	return fmt.Errorf("identity provider returned status %d", resp.StatusCode)
}
