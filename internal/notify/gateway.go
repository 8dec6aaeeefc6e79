// Package notify provides the outbound text-message gateway used by the SOS
// escalation and nearby-trekker pipelines. The production implementation
// speaks a Twilio-style REST API behind a circuit breaker; tests use
// FakeGateway.
package notify

import (
	"context"
	"sync"

	"trekmate/internal/types"
)

// Gateway sends a text message to a set of contacts. Implementations must
// never panic; all failures are reported as errors. Delivery is attempted
// for every usable contact even when earlier contacts fail.
type Gateway interface {
	// Send delivers message to every contact with a usable phone number.
	// It returns nil when at least one contact was reached, and an error
	// when no contact could be reached.
	Send(ctx context.Context, contacts []types.EmergencyContact, message string) error
}

// FakeGateway is an in-memory Gateway for tests. It records every send and
// can be programmed to fail globally or per phone number.
type FakeGateway struct {
	mu sync.Mutex

	// Err, when set, is returned by every Send call.
	Err error

	// FailPhones lists phone numbers whose deliveries fail.
	FailPhones map[string]error

	// Sent records successful deliveries.
	Sent []SentMessage

	// Calls counts Send invocations regardless of outcome.
	Calls int

	// Block, when non-nil, is closed by the test to release a Send that
	// should appear slow.
	Block chan struct{}
}

// SentMessage is one recorded delivery.
type SentMessage struct {
	Phone   string
	Message string
}

// Send implements Gateway.
func (g *FakeGateway) Send(ctx context.Context, contacts []types.EmergencyContact, message string) error {
	g.mu.Lock()
	g.Calls++
	err := g.Err
	block := g.Block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	delivered := 0
	var lastErr error
	for _, c := range contacts {
		if !c.Usable() {
			continue
		}
		if ferr, ok := g.FailPhones[c.Phone]; ok {
			lastErr = ferr
			continue
		}
		g.Sent = append(g.Sent, SentMessage{Phone: c.Phone, Message: message})
		delivered++
	}
	if delivered == 0 && lastErr != nil {
		return lastErr
	}
	if delivered == 0 {
		return types.NewAppError(types.ErrCodeResourceNoContact, "no usable contact", nil)
	}
	return nil
}

// SentCount returns the number of recorded deliveries.
func (g *FakeGateway) SentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Sent)
}
