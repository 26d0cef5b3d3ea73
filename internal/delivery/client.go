package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shohag/formhook/internal/faults"
	"github.com/shohag/formhook/internal/metrics"
	"github.com/shohag/formhook/internal/models"
	"github.com/shohag/formhook/internal/signing"
	"github.com/shohag/formhook/internal/ssrf"
)

const (
	LogIDHeader   = "X-Formhook-Log"
	AttemptHeader = "X-Formhook-Attempt"
)

// Request is one outbound delivery of an already rendered payload.
type Request struct {
	Hook        *models.Hook
	LogID       string
	ContentType string
	Payload     []byte
}

// Outcome is the normalized result of a delivery. StatusCode is 0 when no
// HTTP response was received; Err carries the fault kind when !Success.
type Outcome struct {
	StatusCode int
	Body       string
	Success    bool
	Latency    time.Duration
	Err        error
}

func failedOutcome(err error, start time.Time) Outcome {
	return Outcome{Body: faults.Message(err), Err: err, Latency: time.Since(start)}
}

// Deliverer posts a rendered payload to a hook endpoint.
type Deliverer interface {
	Deliver(ctx context.Context, req Request) Outcome
}

type pinnedIPKey struct{}

// Client posts payloads after vetting the destination with an ssrf.Guard.
// Connections are dialled to the vetted address so a second DNS answer
// cannot redirect them.
type Client struct {
	client    *http.Client
	guard     *ssrf.Guard
	userAgent string
	maxBody   int64
	now       func() time.Time
}

func NewClient(guard *ssrf.Guard, timeout time.Duration, userAgent string, maxBody int64) *Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if ip, ok := ctx.Value(pinnedIPKey{}).(net.IP); ok {
			_, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			addr = net.JoinHostPort(ip.String(), port)
		}
		return dialer.DialContext(ctx, network, addr)
	}
	if maxBody <= 0 {
		maxBody = 64 * 1024
	}
	return &Client{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		guard:     guard,
		userAgent: userAgent,
		maxBody:   maxBody,
		now:       time.Now,
	}
}

func (c *Client) Deliver(ctx context.Context, r Request) Outcome {
	start := time.Now()

	ip, err := c.guard.Check(ctx, r.Hook.Endpoint)
	if err != nil {
		if faults.Is(err, faults.SSRFBlocked) {
			metrics.SSRFBlockedTotal.Inc()
		}
		return failedOutcome(err, start)
	}

	req, err := http.NewRequestWithContext(context.WithValue(ctx, pinnedIPKey{}, ip),
		http.MethodPost, r.Hook.Endpoint, bytes.NewReader(r.Payload))
	if err != nil {
		return failedOutcome(faults.NewTransportFailure(fmt.Errorf("build request: %w", err)), start)
	}
	c.setHeaders(req, r)

	resp, err := c.client.Do(req)
	metrics.DeliveryAttemptDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return failedOutcome(faults.NewTransportFailure(err), start)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))

	out := Outcome{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Success:    IsSuccess(resp.StatusCode),
		Latency:    time.Since(start),
	}
	if !out.Success {
		out.Err = faults.NewHTTPError(resp.StatusCode, out.Body)
	}
	return out
}

// setHeaders applies defaults, then credentials, then the signature, then
// the hook's custom headers, each layer overriding the previous one.
func (c *Client) setHeaders(req *http.Request, r Request) {
	req.Header.Set("Content-Type", r.ContentType)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(LogIDHeader, r.LogID)
	req.Header.Set(AttemptHeader, uuid.NewString())

	settings := r.Hook.Settings
	switch settings.Auth.Type {
	case models.AuthBasic:
		req.SetBasicAuth(settings.Auth.Username, settings.Auth.Password)
	case models.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+settings.Auth.Token)
	}

	if settings.Secret != "" {
		for k, v := range signing.Headers(settings.Secret, r.Payload, c.now()) {
			req.Header.Set(k, v)
		}
	}

	for k, v := range settings.CustomHeaders {
		req.Header.Set(k, v)
	}
}
