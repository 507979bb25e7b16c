package mailer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResendMailer(t *testing.T) {
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" || r.Header.Get("Authorization") != "Bearer re_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"id":"email_1"}`))
	}))
	defer srv.Close()

	m := NewResendMailer(srv.URL, "re_test", "Race <race@example.com>")
	id, err := m.Send(context.Background(), Message{
		To:          []string{"asha@example.com"},
		Subject:     "Registration confirmed",
		HTML:        "<p>See you</p>",
		Attachments: []Attachment{{Filename: "invoice.pdf", Content: []byte("%PDF-1.3")}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "email_1" {
		t.Fatalf("expected email_1, got %s", id)
	}
	if got.From != "Race <race@example.com>" || len(got.Attachments) != 1 {
		t.Fatalf("unexpected request: %+v", got)
	}
	raw, _ := base64.StdEncoding.DecodeString(got.Attachments[0].Content)
	if string(raw) != "%PDF-1.3" {
		t.Fatalf("attachment not base64 encoded: %q", got.Attachments[0].Content)
	}
}

func TestResendMailerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"The 'from' field is required."}`))
	}))
	defer srv.Close()

	_, err := NewResendMailer(srv.URL, "k", "").Send(context.Background(), Message{To: []string{"a@b.co"}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestNoRecipient(t *testing.T) {
	mailers := []Mailer{
		NewResendMailer("http://127.0.0.1:0", "k", "f"),
		NewSMTPMailer("127.0.0.1", 25, "", "", "f"),
		NewLogMailer(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	for _, m := range mailers {
		if _, err := m.Send(context.Background(), Message{Subject: "x"}); !errors.Is(err, ErrNoRecipient) {
			t.Fatalf("%T: expected ErrNoRecipient, got %v", m, err)
		}
	}
}
