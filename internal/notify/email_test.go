package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEmailSenderPostsPayload(t *testing.T) {
	var got emailRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewEmailSender(srv.URL, "Zoho-enczapikey k", "tips@onair.fm", time.Second)
	err := s.Send(context.Background(), Email{To: "dj@example.com", Name: "Night Owl", Subject: "Hi", HTML: "<p>x</p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if auth != "Zoho-enczapikey k" {
		t.Fatalf("authorization = %q", auth)
	}
	if got.From.Address != "tips@onair.fm" || len(got.To) != 1 || got.To[0].Email.Address != "dj@example.com" || got.Subject != "Hi" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestEmailSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewEmailSender(srv.URL, "bad", "tips@onair.fm", time.Second)
	if err := s.Send(context.Background(), Email{To: "dj@example.com"}); err == nil {
		t.Fatal("expected error for 401")
	}
}
