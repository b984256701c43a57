package alerting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDingTalkWebhookSender(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender, err := NewDingTalkWebhookSender(server.URL)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if err := sender.Send(context.Background(), "bind failed"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if received["msgtype"] != "text" {
		t.Fatalf("unexpected payload: %v", received)
	}
	text, ok := received["text"].(map[string]any)
	if !ok || text["content"] != "bind failed" {
		t.Fatalf("unexpected text payload: %v", received)
	}
}

func TestSlackWebhookSenderSurfacesErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer server.Close()

	sender, err := NewSlackWebhookSender(server.URL)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if err := sender.Send(context.Background(), "#rigging", "boom"); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func TestWebhookSendersRequireURL(t *testing.T) {
	if _, err := NewDingTalkWebhookSender(" "); err == nil {
		t.Fatal("expected error for empty dingtalk url")
	}
	if _, err := NewSlackWebhookSender(""); err == nil {
		t.Fatal("expected error for empty slack url")
	}
}
