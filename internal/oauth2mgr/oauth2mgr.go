// Package oauth2mgr implements the authorization-code + PKCE (S256) flow,
// token refresh, and revocation described in spec.md §4.6. The corpus's only
// OAuth helper (bskyoauth) is AT-Protocol/DPoP-specific and does not
// generalize to a standard refresh-token flow, so this package talks to the
// authorization server directly over net/http in the teacher's handler
// idiom (explicit struct, log.Printf diagnostics, 5-minute expiry window
// from internal/handlers/auth.go's GetSession).
package oauth2mgr

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/obsidian-gcal/syncengine/internal/model"
)

// ErrReauthRequired signals that no usable refresh token exists and the
// caller must restart the authorization-code flow.
var ErrReauthRequired = errors.New("oauth2mgr: re-authorization required")

// ErrInvalidGrant signals a refresh attempt that the server rejected as
// permanently invalid (spec.md §4.6: clear credentials, re-auth required).
var ErrInvalidGrant = errors.New("oauth2mgr: refresh token rejected (invalid_grant)")

const stateTTL = 10 * time.Minute
const expiryWindow = 5 * time.Minute

// Endpoints carries the authorization server's URLs.
type Endpoints struct {
	AuthorizationURL string
	TokenURL         string
	RevocationURL    string
	Scope            string
}

// CredentialStore is the narrow persistence contract the manager needs;
// internal/tokenstore implements it.
type CredentialStore interface {
	Load() (model.Credentials, bool, error)
	Save(model.Credentials) error
	Clear() error
}

// Manager drives the PKCE flow and keeps an in-memory access token fresh.
type Manager struct {
	endpoints   Endpoints
	clientID    string
	clientSecret string
	store       CredentialStore
	httpClient  *http.Client

	pending *pendingAuth
	creds   model.Credentials
	hasCreds bool
}

type pendingAuth struct {
	state        string
	codeVerifier string
	redirectURI  string
	issuedAt     time.Time
}

// New constructs a Manager and eagerly loads any persisted credentials.
func New(endpoints Endpoints, clientID, clientSecret string, store CredentialStore) *Manager {
	m := &Manager{
		endpoints:    endpoints,
		clientID:     clientID,
		clientSecret: clientSecret,
		store:        store,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	if creds, ok, err := store.Load(); err == nil && ok {
		m.creds = creds
		m.hasCreds = true
	}
	return m
}

// StartAuthorization generates a PKCE verifier/challenge and state, records
// them, and returns the URL to open externally.
func (m *Manager) StartAuthorization(redirectURI string) (string, error) {
	verifier, err := randomURLSafe(32)
	if err != nil {
		return "", fmt.Errorf("oauth2mgr: generating code_verifier: %w", err)
	}
	state, err := randomURLSafe(16)
	if err != nil {
		return "", fmt.Errorf("oauth2mgr: generating state: %w", err)
	}
	challenge := challengeFromVerifier(verifier)

	m.pending = &pendingAuth{
		state:        state,
		codeVerifier: verifier,
		redirectURI:  redirectURI,
		issuedAt:     time.Now(),
	}

	v := url.Values{}
	v.Set("client_id", m.clientID)
	v.Set("redirect_uri", redirectURI)
	v.Set("response_type", "code")
	v.Set("access_type", "offline")
	v.Set("scope", m.endpoints.Scope)
	v.Set("state", state)
	v.Set("code_challenge_method", "S256")
	v.Set("code_challenge", challenge)
	if !m.hasCreds || m.creds.RefreshToken == "" {
		v.Set("prompt", "consent")
	}

	return m.endpoints.AuthorizationURL + "?" + v.Encode(), nil
}

// HandleCallback exchanges an authorization code (or surfaces the
// authorization server's error) per spec.md §4.6.
func (m *Manager) HandleCallback(ctx context.Context, query url.Values) error {
	if errParam := query.Get("error"); errParam != "" {
		return fmt.Errorf("oauth2mgr: authorization denied: %s", errParam)
	}

	if m.pending == nil {
		return errors.New("oauth2mgr: no authorization in progress")
	}
	if time.Since(m.pending.issuedAt) > stateTTL {
		m.pending = nil
		return errors.New("oauth2mgr: authorization state expired")
	}
	if query.Get("state") != m.pending.state {
		return errors.New("oauth2mgr: state mismatch")
	}

	code := query.Get("code")
	if code == "" {
		return errors.New("oauth2mgr: callback missing code")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", m.pending.redirectURI)
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)
	form.Set("code_verifier", m.pending.codeVerifier)

	tok, err := m.doTokenRequest(ctx, form)
	if err != nil {
		return fmt.Errorf("oauth2mgr: exchanging code: %w", err)
	}

	merged := model.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
		Scope:        tok.Scope,
	}
	if merged.RefreshToken == "" && m.hasCreds {
		merged.RefreshToken = m.creds.RefreshToken
	}

	if err := m.store.Save(merged); err != nil {
		return fmt.Errorf("oauth2mgr: persisting credentials: %w", err)
	}
	m.creds = merged
	m.hasCreds = true
	m.pending = nil

	log.Printf("[oauth2mgr] authorization complete, expiry=%s", merged.Expiry.Format(time.RFC3339))
	return nil
}

// EnsureAccessToken implements spec.md §4.6's ensureAccessToken(): returns a
// usable bearer token, refreshing transparently when within 5 minutes of
// expiry.
func (m *Manager) EnsureAccessToken(ctx context.Context) (string, error) {
	if !m.hasCreds {
		return "", ErrReauthRequired
	}
	if !m.creds.NearExpiry(expiryWindow) {
		return m.creds.AccessToken, nil
	}
	if m.creds.RefreshToken == "" {
		return "", ErrReauthRequired
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", m.creds.RefreshToken)
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)

	tok, err := m.doTokenRequest(ctx, form)
	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			m.hasCreds = false
			m.creds = model.Credentials{}
			_ = m.store.Clear()
			return "", ErrReauthRequired
		}
		return "", fmt.Errorf("oauth2mgr: refreshing access token: %w", err)
	}

	next := model.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: m.creds.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
		Scope:        tok.Scope,
	}
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	if err := m.store.Save(next); err != nil {
		log.Printf("[oauth2mgr] warning: failed to persist refreshed credentials: %v", err)
	}
	m.creds = next
	return m.creds.AccessToken, nil
}

// Revoke hits the revocation endpoint and clears local storage regardless
// of the server's response.
func (m *Manager) Revoke(ctx context.Context) error {
	defer func() {
		m.hasCreds = false
		m.creds = model.Credentials{}
	}()

	if !m.hasCreds || m.endpoints.RevocationURL == "" {
		return m.store.Clear()
	}

	v := url.Values{}
	v.Set("token", m.creds.RefreshToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoints.RevocationURL, strings.NewReader(v.Encode()))
	if err != nil {
		return m.store.Clear()
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		log.Printf("[oauth2mgr] revocation request failed: %v", err)
	} else {
		resp.Body.Close()
	}
	return m.store.Clear()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	Error        string `json:"error"`
}

func (m *Manager) doTokenRequest(ctx context.Context, form url.Values) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoints.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return tokenResponse{}, err
	}
	defer resp.Body.Close()

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return tokenResponse{}, fmt.Errorf("decoding token response: %w", err)
	}
	if tok.Error == "invalid_grant" {
		return tokenResponse{}, ErrInvalidGrant
	}
	if tok.Error != "" {
		return tokenResponse{}, fmt.Errorf("authorization server error: %s", tok.Error)
	}
	if resp.StatusCode >= 400 {
		return tokenResponse{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}
	return tok, nil
}

func randomURLSafe(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func challengeFromVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
