package mail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kidandcat/workboard/internal/config"
)

func TestResendSend(t *testing.T) {
	var got resendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.EmailConfig{FromEmail: "wb@example.com", ResendAPIKey: "re_123"}
	m := NewResend(cfg, srv.URL, srv.Client())
	if err := m.Send(context.Background(), Message{To: "bob@example.com", Subject: "Hi", HTML: "<p>x</p>"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if auth != "Bearer re_123" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.From != "wb@example.com" || len(got.To) != 1 || got.To[0] != "bob@example.com" || got.Subject != "Hi" {
		t.Errorf("request = %+v", got)
	}
}

func TestResendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	m := NewResend(config.EmailConfig{}, srv.URL, srv.Client())
	err := m.Send(context.Background(), Message{To: "bob@example.com"})
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Errorf("Send error = %v, want status 422", err)
	}
}

func TestNewPicksTransport(t *testing.T) {
	if _, ok := New(config.EmailConfig{}, nil).(*LogMailer); !ok {
		t.Error("no provider: want LogMailer")
	}
	if _, ok := New(config.EmailConfig{ResendAPIKey: "k"}, nil).(*Resend); !ok {
		t.Error("api key: want Resend")
	}
	if _, ok := New(config.EmailConfig{ResendAPIKey: "k", SMTPEnabled: true}, nil).(*SMTP); !ok {
		t.Error("smtp enabled: want SMTP")
	}
}

func TestTemplatesEscape(t *testing.T) {
	m := Invitation("bob@example.com", "https://wb.example.com", "<Ops>", "alice", "join us & <b>win</b>", time.Now().Add(48*time.Hour))
	if strings.Contains(m.HTML, "<Ops>") || strings.Contains(m.HTML, "<b>win</b>") {
		t.Errorf("unescaped HTML: %s", m.HTML)
	}
	if !strings.Contains(m.HTML, "https://wb.example.com/invitations") {
		t.Errorf("missing link: %s", m.HTML)
	}

	link := MagicLink("bob@example.com", "https://wb.example.com", "Workboard", "tok", 15*time.Minute)
	if !strings.Contains(link.HTML, "token=tok") || !strings.Contains(link.HTML, "15 minutes") {
		t.Errorf("magic link body = %s", link.HTML)
	}
}
