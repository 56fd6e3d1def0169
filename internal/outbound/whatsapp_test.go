package outbound

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCloudAPIClient_SendPostsTextMessage(t *testing.T) {
	var got textMessage
	var gotPath, gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewCloudAPIClient("test-token", "123456789")
	client.SetBaseURL(srv.URL)

	if err := client.Send(context.Background(), "50211111111", "hola 🌱"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if gotPath != "/123456789/messages" {
		t.Errorf("Expected path /123456789/messages, got %q", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
	if got.MessagingProduct != "whatsapp" || got.Type != "text" {
		t.Errorf("Unexpected envelope: %+v", got)
	}
	if got.To != "50211111111" || got.Text.Body != "hola 🌱" {
		t.Errorf("Unexpected recipient or body: %+v", got)
	}
}

func TestCloudAPIClient_SendSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "invalid token"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewCloudAPIClient("bad-token", "123456789")
	client.SetBaseURL(srv.URL)

	if err := client.Send(context.Background(), "50211111111", "hola"); err == nil {
		t.Fatal("Expected an error for a 401 response")
	}
}
