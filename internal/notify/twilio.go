package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"trekmate/internal/config"
	"trekmate/internal/types"
)

// TwilioGateway delivers SMS through a Twilio-compatible REST API. All
// outbound calls run through a circuit breaker so a dead provider fails fast
// instead of holding every dispatch loop for the full timeout.
type TwilioGateway struct {
	cfg     config.SMSConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  *slog.Logger
}

// NewTwilioGateway creates a TwilioGateway. A nil httpClient defaults to a
// client bounded by the configured send timeout.
func NewTwilioGateway(cfg config.SMSConfig, httpClient *http.Client, logger *slog.Logger) *TwilioGateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.SendTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "sms-gateway",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &TwilioGateway{
		cfg:     cfg,
		client:  httpClient,
		breaker: cb,
		logger:  logger,
	}
}

// Send implements Gateway. Each usable contact is attempted independently
// under its own bounded timeout; one failing number never aborts the rest.
// Send returns nil when at least one contact was reached.
func (g *TwilioGateway) Send(ctx context.Context, contacts []types.EmergencyContact, message string) error {
	delivered := 0
	attempted := 0
	var lastErr error

	for _, c := range contacts {
		if !c.Usable() {
			continue
		}
		attempted++
		if err := g.sendOne(ctx, c.Phone, message); err != nil {
			lastErr = err
			g.logger.Error("sms delivery failed", "phone", maskPhone(c.Phone), "error", err)
			continue
		}
		delivered++
	}

	if attempted == 0 {
		return types.NewAppError(types.ErrCodeResourceNoContact,
			"no contact has a usable phone number", nil)
	}
	if delivered == 0 {
		return types.NewAppError(types.ErrCodeUpstreamGateway,
			"notification gateway rejected every delivery", lastErr)
	}
	return nil
}

// sendOne posts a single message, bounded by the configured per-send timeout.
func (g *TwilioGateway) sendOne(ctx context.Context, phone, message string) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.SendTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", g.cfg.FromNumber)
	form.Set("Body", message)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(g.cfg.APIBaseURL, "/"), g.cfg.AccountSID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(g.cfg.AccountSID, g.cfg.AuthToken)

	resp, err := g.breaker.Execute(func() (*http.Response, error) {
		res, execErr := g.client.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		if res.StatusCode >= 500 {
			// Count provider-side failures against the breaker.
			body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
			_ = res.Body.Close()
			return nil, fmt.Errorf("sms provider returned %d: %s", res.StatusCode, string(body))
		}
		return res, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("sms gateway circuit open: %w", err)
		}
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms provider returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// maskPhone hides all but the last four digits in log output.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
