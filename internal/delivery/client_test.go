package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shohag/formhook/internal/faults"
	"github.com/shohag/formhook/internal/models"
	"github.com/shohag/formhook/internal/signing"
	"github.com/shohag/formhook/internal/ssrf"
)

func newTestClient(t *testing.T, maxBody int64) *Client {
	t.Helper()
	guard, err := ssrf.NewGuard(nil, []string{"127.0.0.1"}, nil)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	return NewClient(guard, 2*time.Second, "Formhook/test", maxBody)
}

func TestClientHeaderPrecedence(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
	}))
	defer srv.Close()

	hook := &models.Hook{
		Endpoint: srv.URL,
		Settings: models.HookSettings{
			Auth: models.HookAuth{Type: models.AuthBearer, Token: "tok"},
			CustomHeaders: map[string]string{
				"Authorization": "Custom override",
				"X-Token":       "1234abcd",
			},
		},
	}
	out := newTestClient(t, 0).Deliver(context.Background(), Request{
		Hook: hook, LogID: "hl_1", ContentType: "application/xml", Payload: []byte("<a/>"),
	})
	if !out.Success || out.StatusCode != 200 {
		t.Fatalf("unexpected outcome %+v", out)
	}

	h := <-headers
	if got := h.Get("Authorization"); got != "Custom override" {
		t.Fatalf("custom header must win over auth, got %q", got)
	}
	if h.Get("X-Token") != "1234abcd" || h.Get("Content-Type") != "application/xml" || h.Get("User-Agent") != "Formhook/test" {
		t.Fatalf("unexpected headers %v", h)
	}
	if h.Get(AttemptHeader) == "" || h.Get(LogIDHeader) != "hl_1" {
		t.Fatalf("missing delivery headers %v", h)
	}
}

func TestClientBasicAuthAndSignature(t *testing.T) {
	type seen struct {
		user, pass string
		header     http.Header
		body       []byte
	}
	requests := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		requests <- seen{user: user, pass: pass, header: r.Header.Clone(), body: body}
	}))
	defer srv.Close()

	hook := &models.Hook{
		Endpoint: srv.URL,
		Settings: models.HookSettings{
			Auth:   models.HookAuth{Type: models.AuthBasic, Username: "formhook", Password: "s3cret"},
			Secret: "whsec",
		},
	}
	newTestClient(t, 0).Deliver(context.Background(), Request{
		Hook: hook, LogID: "hl_1", ContentType: "application/json", Payload: []byte(`{"a":"b"}`),
	})

	got := <-requests
	if got.user != "formhook" || got.pass != "s3cret" {
		t.Fatalf("unexpected credentials %q:%q", got.user, got.pass)
	}
	ts := got.header.Get(signing.TimestampHeader)
	sig := got.header.Get(signing.SignatureHeader)
	if ts == "" || sig == "" {
		t.Fatalf("missing signature headers %v", got.header)
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		t.Fatalf("timestamp %q: %v", ts, err)
	}
	if !signing.Verify("whsec", got.body, unix, sig) {
		t.Fatalf("signature does not verify")
	}
}

func TestClientNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	out := newTestClient(t, 10).Deliver(context.Background(), Request{
		Hook: &models.Hook{Endpoint: srv.URL}, ContentType: "application/json", Payload: []byte("{}"),
	})
	if out.Success || out.StatusCode != http.StatusTeapot || !faults.Is(out.Err, faults.HTTPError) {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Body != strings.Repeat("x", 10) {
		t.Fatalf("response body must be capped, got %d bytes", len(out.Body))
	}
}

func TestClientTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	out := newTestClient(t, 0).Deliver(context.Background(), Request{
		Hook: &models.Hook{Endpoint: url}, ContentType: "application/json", Payload: []byte("{}"),
	})
	if out.Success || out.StatusCode != 0 || !faults.Is(out.Err, faults.TransportFailure) {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !faults.Retryable(out.Err) {
		t.Fatalf("transport failures must be retryable")
	}
}

func TestClientBlocksBeforeDialing(t *testing.T) {
	guard, _ := ssrf.NewGuard(nil, nil, nil)
	c := NewClient(guard, time.Second, "Formhook/test", 0)

	for _, endpoint := range []string{"http://127.0.0.1:1/", "http://169.254.169.254/latest", "ftp://example.com/"} {
		out := c.Deliver(context.Background(), Request{
			Hook: &models.Hook{Endpoint: endpoint}, ContentType: "application/json", Payload: []byte("{}"),
		})
		if out.StatusCode != 0 || !faults.Is(out.Err, faults.SSRFBlocked) || faults.Retryable(out.Err) {
			t.Fatalf("%s: unexpected outcome %+v", endpoint, out)
		}
	}
}
