package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func tokenFn(ctx context.Context) (string, error) { return "test-token", nil }

func TestListPluginOwnedEventsPagesThroughResults(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("expected a bearer token header, got %q", got)
		}
		if r.URL.Query().Get("privateExtendedProperty") != "isGcalSync=true" {
			t.Errorf("expected the isGcalSync filter, got %q", r.URL.Query().Get("privateExtendedProperty"))
		}

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			w.Write([]byte(`{"items":[{"id":"ev1","status":"confirmed","summary":"a","extendedProperties":{"private":{"isGcalSync":"true","obsidianTaskId":"t1"}}}],"nextPageToken":"page2"}`))
			return
		}
		w.Write([]byte(`{"items":[{"id":"ev2","status":"confirmed","summary":"b"}]}`))
	}))
	defer server.Close()

	client := &Client{HTTPClient: server.Client(), BaseURL: server.URL, TokenFn: tokenFn}
	events, err := client.ListPluginOwnedEvents(context.Background(), "primary")
	if err != nil {
		t.Fatalf("ListPluginOwnedEvents: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 pages fetched, got %d calls", calls)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events across both pages, got %d", len(events))
	}
	if events[0].ID != "ev1" || events[0].TaskID() != "t1" {
		t.Errorf("expected the first event's fields mapped through, got %+v", events[0])
	}
	if events[1].ID != "ev2" {
		t.Errorf("expected the second page's event included, got %+v", events[1])
	}
}

func TestListPluginOwnedEventsSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := &Client{HTTPClient: server.Client(), BaseURL: server.URL, TokenFn: tokenFn}
	if _, err := client.ListPluginOwnedEvents(context.Background(), "primary"); err == nil {
		t.Fatal("expected an error for a 403 response")
	}
}

func TestPostBatchSendsBearerTokenAndBoundary(t *testing.T) {
	var gotContentType, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("batch-response"))
	}))
	defer server.Close()

	client := &Client{HTTPClient: server.Client(), BatchURL: server.URL, TokenFn: tokenFn}
	status, body, err := client.PostBatch(context.Background(), "boundary123", []byte("request-body"))
	if err != nil {
		t.Fatalf("PostBatch: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
	if string(body) != "batch-response" {
		t.Errorf("expected the response body passed through, got %q", body)
	}
	if !strings.Contains(gotContentType, "boundary123") {
		t.Errorf("expected the boundary in Content-Type, got %q", gotContentType)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("expected a bearer token, got %q", gotAuth)
	}
}

func TestRevokeFailsOnErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		if r.Form.Get("token") != "refresh-1" {
			t.Errorf("expected the token in the form body, got %q", r.Form.Get("token"))
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := &Client{HTTPClient: server.Client()}
	err := client.Revoke(context.Background(), server.URL, "refresh-1")
	if err == nil {
		t.Fatal("expected an error for a 400 revocation response")
	}
}

func TestRevokeSucceedsOnOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &Client{HTTPClient: server.Client()}
	if err := client.Revoke(context.Background(), server.URL, "refresh-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
}
