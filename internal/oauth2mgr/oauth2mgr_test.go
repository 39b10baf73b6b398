package oauth2mgr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/obsidian-gcal/syncengine/internal/model"
)

type fakeStore struct {
	creds model.Credentials
	ok    bool
	saved []model.Credentials
	cleared bool
}

func (f *fakeStore) Load() (model.Credentials, bool, error) { return f.creds, f.ok, nil }
func (f *fakeStore) Save(c model.Credentials) error {
	f.saved = append(f.saved, c)
	f.creds = c
	f.ok = true
	return nil
}
func (f *fakeStore) Clear() error {
	f.cleared = true
	f.ok = false
	f.creds = model.Credentials{}
	return nil
}

func TestStartAuthorizationSetsConsentWhenNoRefreshToken(t *testing.T) {
	mgr := New(Endpoints{AuthorizationURL: "https://auth.example.com/authorize", Scope: "calendar"}, "client-id", "secret", &fakeStore{})

	authURL, err := mgr.StartAuthorization("http://127.0.0.1:9999/callback")
	if err != nil {
		t.Fatalf("StartAuthorization: %v", err)
	}
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parsing auth url: %v", err)
	}
	q := parsed.Query()
	if q.Get("prompt") != "consent" {
		t.Errorf("expected prompt=consent with no prior refresh token, got %q", q.Get("prompt"))
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("expected S256 challenge method, got %q", q.Get("code_challenge_method"))
	}
	if q.Get("access_type") != "offline" {
		t.Errorf("expected access_type=offline, got %q", q.Get("access_type"))
	}
	if q.Get("state") == "" || q.Get("code_challenge") == "" {
		t.Error("expected state and code_challenge to be populated")
	}
}

func TestStartAuthorizationOmitsConsentWithExistingRefreshToken(t *testing.T) {
	store := &fakeStore{creds: model.Credentials{RefreshToken: "existing"}, ok: true}
	mgr := New(Endpoints{AuthorizationURL: "https://auth.example.com/authorize"}, "client-id", "secret", store)

	authURL, err := mgr.StartAuthorization("http://127.0.0.1:9999/callback")
	if err != nil {
		t.Fatalf("StartAuthorization: %v", err)
	}
	parsed, _ := url.Parse(authURL)
	if parsed.Query().Get("prompt") != "" {
		t.Errorf("expected no prompt param with an existing refresh token, got %q", parsed.Query().Get("prompt"))
	}
}

func TestHandleCallbackRejectsAuthorizationError(t *testing.T) {
	mgr := New(Endpoints{}, "client-id", "secret", &fakeStore{})
	err := mgr.HandleCallback(context.Background(), url.Values{"error": {"access_denied"}})
	if err == nil {
		t.Fatal("expected an error for an error= callback query")
	}
}

func TestHandleCallbackRejectsWithoutPendingAuthorization(t *testing.T) {
	mgr := New(Endpoints{}, "client-id", "secret", &fakeStore{})
	err := mgr.HandleCallback(context.Background(), url.Values{"code": {"abc"}, "state": {"xyz"}})
	if err == nil {
		t.Fatal("expected an error when no authorization is in progress")
	}
}

func TestHandleCallbackRejectsStateMismatch(t *testing.T) {
	mgr := New(Endpoints{}, "client-id", "secret", &fakeStore{})
	if _, err := mgr.StartAuthorization("http://127.0.0.1/callback"); err != nil {
		t.Fatalf("StartAuthorization: %v", err)
	}
	err := mgr.HandleCallback(context.Background(), url.Values{"code": {"abc"}, "state": {"wrong-state"}})
	if err == nil {
		t.Fatal("expected an error for a mismatched state")
	}
}

func TestHandleCallbackExchangesCodeAndPersistsCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		if r.Form.Get("grant_type") != "authorization_code" {
			t.Errorf("expected authorization_code grant, got %q", r.Form.Get("grant_type"))
		}
		if r.Form.Get("code_verifier") == "" {
			t.Error("expected a code_verifier to be sent")
		}
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: 3600, Scope: "calendar"})
	}))
	defer server.Close()

	store := &fakeStore{}
	mgr := New(Endpoints{TokenURL: server.URL}, "client-id", "secret", store)

	authURL, err := mgr.StartAuthorization("http://127.0.0.1/callback")
	if err != nil {
		t.Fatalf("StartAuthorization: %v", err)
	}
	state := mustState(t, authURL)

	if err := mgr.HandleCallback(context.Background(), url.Values{"code": {"auth-code"}, "state": {state}}); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	if !store.ok || store.creds.RefreshToken != "refresh-1" {
		t.Fatalf("expected the exchanged refresh token persisted, got %+v", store.creds)
	}
	token, err := mgr.EnsureAccessToken(context.Background())
	if err != nil {
		t.Fatalf("EnsureAccessToken: %v", err)
	}
	if token != "access-1" {
		t.Errorf("expected access-1, got %q", token)
	}
}

func TestEnsureAccessTokenWithoutCredentialsRequiresReauth(t *testing.T) {
	mgr := New(Endpoints{}, "client-id", "secret", &fakeStore{})
	_, err := mgr.EnsureAccessToken(context.Background())
	if err != ErrReauthRequired {
		t.Errorf("expected ErrReauthRequired, got %v", err)
	}
}

func TestEnsureAccessTokenRefreshesWhenNearExpiry(t *testing.T) {
	var refreshCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "access-2", ExpiresIn: 3600})
	}))
	defer server.Close()

	store := &fakeStore{
		creds: model.Credentials{AccessToken: "stale", RefreshToken: "refresh-1", Expiry: time.Now().Add(-time.Minute)},
		ok:    true,
	}
	mgr := New(Endpoints{TokenURL: server.URL}, "client-id", "secret", store)

	token, err := mgr.EnsureAccessToken(context.Background())
	if err != nil {
		t.Fatalf("EnsureAccessToken: %v", err)
	}
	if token != "access-2" {
		t.Errorf("expected a refreshed access token, got %q", token)
	}
	if refreshCalls != 1 {
		t.Errorf("expected exactly one refresh call, got %d", refreshCalls)
	}
	// refresh_token should be preserved since the server didn't send a new one.
	if store.creds.RefreshToken != "refresh-1" {
		t.Errorf("expected the original refresh token preserved, got %q", store.creds.RefreshToken)
	}
}

func TestEnsureAccessTokenNotNearExpirySkipsNetworkCall(t *testing.T) {
	mgr := New(Endpoints{}, "client-id", "secret", &fakeStore{
		creds: model.Credentials{AccessToken: "still-fresh", Expiry: time.Now().Add(time.Hour)},
		ok:    true,
	})
	token, err := mgr.EnsureAccessToken(context.Background())
	if err != nil {
		t.Fatalf("EnsureAccessToken: %v", err)
	}
	if token != "still-fresh" {
		t.Errorf("expected the cached access token, got %q", token)
	}
}

func TestEnsureAccessTokenInvalidGrantClearsCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tokenResponse{Error: "invalid_grant"})
	}))
	defer server.Close()

	store := &fakeStore{
		creds: model.Credentials{AccessToken: "stale", RefreshToken: "refresh-1", Expiry: time.Now().Add(-time.Minute)},
		ok:    true,
	}
	mgr := New(Endpoints{TokenURL: server.URL}, "client-id", "secret", store)

	_, err := mgr.EnsureAccessToken(context.Background())
	if err != ErrReauthRequired {
		t.Errorf("expected ErrReauthRequired after an invalid_grant response, got %v", err)
	}
	if !store.cleared {
		t.Error("expected the credential store to be cleared on invalid_grant")
	}
}

func TestRevokeClearsLocalStorageEvenWithoutRevocationURL(t *testing.T) {
	store := &fakeStore{creds: model.Credentials{RefreshToken: "refresh-1"}, ok: true}
	mgr := New(Endpoints{}, "client-id", "secret", store)

	if err := mgr.Revoke(context.Background()); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if !store.cleared {
		t.Error("expected Revoke to clear the store")
	}
}

func mustState(t *testing.T, authURL string) string {
	t.Helper()
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parsing auth url: %v", err)
	}
	state := parsed.Query().Get("state")
	if state == "" {
		t.Fatal("expected a non-empty state in the authorization url")
	}
	return state
}
