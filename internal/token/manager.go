package token

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kurashi-commerce/grandpay-gateway/internal/config"
	"github.com/kurashi-commerce/grandpay-gateway/internal/errs"
	"github.com/kurashi-commerce/grandpay-gateway/internal/telemetry"
)

const redisTokenKey = "grandpay:oauth_token"

// Token is a cached OAuth2 bearer token. Zero value is invalid.
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Usable reports whether the token is still inside the refresh safety margin.
func (t Token) Usable(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-config.TokenRefreshMargin))
}

// Manager owns the shared token. The mutex serializes refreshes: concurrent
// callers that arrive during an exchange block, then find the fresh token in
// the cache, so one expiry cycle performs exactly one network exchange.
type Manager struct {
	cfg   *config.Config
	http  *http.Client
	redis *redis.Client // optional cross-process cache, may be nil

	mu     sync.Mutex
	cached Token
	now    func() time.Time
}

func NewManager(cfg *config.Config, redisClient *redis.Client) *Manager {
	return &Manager{
		cfg:   cfg,
		http:  &http.Client{Timeout: config.RequestTimeout},
		redis: redisClient,
		now:   time.Now,
	}
}

// Get returns a usable token, refreshing it when inside the expiry margin.
func (m *Manager) Get(ctx context.Context) (Token, error) {
	if missing := m.cfg.MissingCredentials(); len(missing) > 0 {
		return Token{}, &errs.ConfigurationError{Missing: missing}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.cached.Usable(now) {
		return m.cached, nil
	}

	if t, ok := m.loadShared(ctx, now); ok {
		m.cached = t
		return t, nil
	}

	t, err := m.exchange(ctx)
	if err != nil {
		telemetry.TokenRefreshes.WithLabelValues("error").Inc()
		return Token{}, err
	}
	telemetry.TokenRefreshes.WithLabelValues("ok").Inc()

	m.cached = t
	m.storeShared(ctx, t)
	return t, nil
}

// Invalidate drops the cached token so the next Get refreshes. Called after
// the gateway rejects a token with a 401.
func (m *Manager) Invalidate(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = Token{}
	if m.redis != nil {
		if err := m.redis.Del(ctx, redisTokenKey).Err(); err != nil {
			telemetry.Logger.Warn("Failed to drop shared token", zap.Error(err))
		}
	}
}

func (m *Manager) loadShared(ctx context.Context, now time.Time) (Token, bool) {
	if m.redis == nil {
		return Token{}, false
	}
	payload, err := m.redis.Get(ctx, redisTokenKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			telemetry.Logger.Warn("Shared token read failed", zap.Error(err))
		}
		return Token{}, false
	}
	var t Token
	if err := json.Unmarshal(payload, &t); err != nil || !t.Usable(now) {
		return Token{}, false
	}
	return t, true
}

func (m *Manager) storeShared(ctx context.Context, t Token) {
	if m.redis == nil {
		return
	}
	payload, _ := json.Marshal(t)
	ttl := time.Until(t.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if err := m.redis.Set(ctx, redisTokenKey, payload, ttl).Err(); err != nil {
		telemetry.Logger.Warn("Shared token write failed", zap.Error(err))
	}
}

type tokenResponse struct {
	Data struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int64  `json:"expiresIn"`
	} `json:"data"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (m *Manager) exchange(ctx context.Context) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "custom-password-grant")
	form.Set("username", m.cfg.Username)
	form.Set("credentials", m.cfg.Credentials)

	endpoint := m.cfg.GatewayBaseURL + "/uaa/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, &errs.AuthError{Cause: err.Error()}
	}
	req.SetBasicAuth(m.cfg.OAuthBasicUser, m.cfg.OAuthBasicPass)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	telemetry.Logger.Info("Refreshing gateway access token", zap.String("endpoint", endpoint))

	resp, err := m.http.Do(req)
	if err != nil {
		return Token{}, &errs.AuthError{Cause: "token request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, &errs.AuthError{Cause: "reading token response: " + err.Error()}
	}

	var parsed tokenResponse
	if resp.StatusCode != http.StatusOK {
		cause := "HTTP " + resp.Status
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
			cause += ": " + parsed.Error
			if parsed.ErrorDescription != "" {
				cause += " - " + parsed.ErrorDescription
			}
		}
		return Token{}, &errs.AuthError{Cause: cause}
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		return Token{}, &errs.AuthError{Cause: "malformed token response: " + err.Error()}
	}
	if parsed.Data.AccessToken == "" {
		return Token{}, &errs.AuthError{Cause: "token response missing accessToken"}
	}

	expiresIn := parsed.Data.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = config.DefaultTokenTTL
	}

	t := Token{
		Value:     parsed.Data.AccessToken,
		ExpiresAt: m.now().Add(time.Duration(expiresIn) * time.Second),
	}

	telemetry.Logger.Info("Access token refreshed",
		zap.Time("expires_at", t.ExpiresAt),
	)
	return t, nil
}
