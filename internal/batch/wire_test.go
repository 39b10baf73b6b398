package batch

import (
	"testing"

	"github.com/obsidian-gcal/syncengine/internal/model"
)

func TestEncodeDecodeMultipartRoundTrip(t *testing.T) {
	ops := []model.BatchOp{
		{Method: "POST", Path: "/calendars/primary/events", Body: map[string]any{"summary": "a"}, OperationType: model.OpInsert, TaskID: "t1"},
		{Method: "DELETE", Path: "/calendars/primary/events/ev2", OperationType: model.OpDelete, TaskID: "t2"},
	}

	wire, err := encodeMultipart("batch_abc123", ops)
	if err != nil {
		t.Fatalf("encodeMultipart: %v", err)
	}

	responseBody := "--batch_abc123\r\n" +
		"Content-Type: application/http\r\n" +
		"Content-ID: response-item-0\r\n\r\n" +
		"HTTP/1.1 200 OK\r\n" +
		"Content-Type: application/json\r\n\r\n" +
		`{"id":"ev-new","status":"confirmed"}` + "\r\n" +
		"--batch_abc123\r\n" +
		"Content-Type: application/http\r\n" +
		"Content-ID: response-item-1\r\n\r\n" +
		"HTTP/1.1 204 No Content\r\n\r\n" +
		"--batch_abc123--\r\n"

	results, err := decodeMultipart("batch_abc123", []byte(responseBody))
	if err != nil {
		t.Fatalf("decodeMultipart: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(results), results)
	}
	if results[0].Status != 200 {
		t.Errorf("expected status 200, got %d", results[0].Status)
	}
	body, ok := results[0].Body.(map[string]any)
	if !ok || body["id"] != "ev-new" {
		t.Errorf("expected decoded JSON body with id, got %#v", results[0].Body)
	}
	if results[1].Status != 204 {
		t.Errorf("expected status 204, got %d", results[1].Status)
	}
	if results[1].Body != nil {
		t.Errorf("expected nil body for 204, got %#v", results[1].Body)
	}

	if len(wire) == 0 {
		t.Fatal("expected non-empty encoded request body")
	}
}

func TestParseInnerBodyClassification(t *testing.T) {
	t.Run("204 yields nil", func(t *testing.T) {
		if v := parseInnerBody("", 204); v != nil {
			t.Errorf("expected nil, got %#v", v)
		}
	})

	t.Run("json object parses", func(t *testing.T) {
		v := parseInnerBody(`{"a":1}`, 200)
		m, ok := v.(map[string]any)
		if !ok || m["a"] != float64(1) {
			t.Errorf("expected parsed JSON map, got %#v", v)
		}
	})

	t.Run("plain text success wraps as message", func(t *testing.T) {
		v := parseInnerBody("ok", 200)
		m, ok := v.(map[string]any)
		if !ok || m["message"] != "ok" {
			t.Errorf("expected {message: ok}, got %#v", v)
		}
	})

	t.Run("plain text error wraps as error.message", func(t *testing.T) {
		v := parseInnerBody("boom", 500)
		m, ok := v.(map[string]any)
		if !ok {
			t.Fatalf("expected a map, got %#v", v)
		}
		errObj, ok := m["error"].(map[string]any)
		if !ok || errObj["message"] != "boom" {
			t.Errorf("expected {error:{message: boom}}, got %#v", v)
		}
	})
}

func TestParseStatusLine(t *testing.T) {
	status, err := parseStatusLine("HTTP/1.1 429 Too Many Requests")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != 429 {
		t.Errorf("expected 429, got %d", status)
	}

	if _, err := parseStatusLine("garbage"); err == nil {
		t.Fatal("expected an error for a malformed status line")
	}
}
