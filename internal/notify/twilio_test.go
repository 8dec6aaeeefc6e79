package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"trekmate/internal/config"
	"trekmate/internal/types"
)

func testSMSConfig(baseURL string) config.SMSConfig {
	return config.SMSConfig{
		AccountSID:  "AC_test",
		AuthToken:   "secret",
		FromNumber:  "+15550001111",
		APIBaseURL:  baseURL,
		SendTimeout: 2 * time.Second,
	}
}

func TestTwilioGateway_SendDeliversToEveryContact(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostFormValue("From") != "+15550001111" {
			t.Errorf("From = %q", r.PostFormValue("From"))
		}
		if user, _, ok := r.BasicAuth(); !ok || user != "AC_test" {
			t.Errorf("missing or wrong basic auth")
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	g := NewTwilioGateway(testSMSConfig(srv.URL), srv.Client(), discardLogger())
	contacts := []types.EmergencyContact{
		{Name: "Ana", Phone: "+15550002222"},
		{Phone: "+15550003333"},
		{Name: "no phone"}, // skipped
	}

	if err := g.Send(context.Background(), contacts, "help"); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("provider called %d times, want 2", n)
	}
}

func TestTwilioGateway_PartialFailureStillSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	g := NewTwilioGateway(testSMSConfig(srv.URL), srv.Client(), discardLogger())
	contacts := []types.EmergencyContact{
		{Phone: "+15550002222"},
		{Phone: "+15550003333"},
	}

	// First delivery fails, second succeeds: overall nil, both attempted.
	if err := g.Send(context.Background(), contacts, "help"); err != nil {
		t.Fatalf("Send() = %v, want nil on partial success", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("provider called %d times, want 2 (no short-circuit)", n)
	}
}

func TestTwilioGateway_AllFailuresSurfaceUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	g := NewTwilioGateway(testSMSConfig(srv.URL), srv.Client(), discardLogger())
	err := g.Send(context.Background(), []types.EmergencyContact{{Phone: "+15550002222"}}, "help")
	if err == nil {
		t.Fatal("expected error when every delivery fails")
	}
	appErr, ok := err.(*types.AppError)
	if !ok {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeUpstreamGateway {
		t.Errorf("Code = %v, want %v", appErr.Code, types.ErrCodeUpstreamGateway)
	}
}

func TestTwilioGateway_NoUsableContacts(t *testing.T) {
	g := NewTwilioGateway(testSMSConfig("http://127.0.0.1:1"), nil, discardLogger())
	err := g.Send(context.Background(), []types.EmergencyContact{{Name: "anon"}}, "help")
	appErr, ok := err.(*types.AppError)
	if !ok || appErr.Code != types.ErrCodeResourceNoContact {
		t.Fatalf("err = %v, want resource_no_emergency_contact", err)
	}
}

func TestTwilioGateway_TimeoutCountsAsFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	cfg := testSMSConfig(srv.URL)
	cfg.SendTimeout = 50 * time.Millisecond
	g := NewTwilioGateway(cfg, srv.Client(), discardLogger())

	start := time.Now()
	err := g.Send(context.Background(), []types.EmergencyContact{{Phone: "+15550002222"}}, "help")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("send blocked %v, want bounded by the per-send timeout", elapsed)
	}
}
