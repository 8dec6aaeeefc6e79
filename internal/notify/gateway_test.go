package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"trekmate/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFakeGateway_RecordsDeliveries(t *testing.T) {
	g := &FakeGateway{}
	contacts := []types.EmergencyContact{{Phone: "+1555"}, {Name: "no phone"}}

	if err := g.Send(context.Background(), contacts, "msg"); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if g.SentCount() != 1 {
		t.Fatalf("SentCount() = %d, want 1", g.SentCount())
	}
	if g.Sent[0].Phone != "+1555" || g.Sent[0].Message != "msg" {
		t.Fatalf("recorded %+v", g.Sent[0])
	}
}

func TestFakeGateway_PerPhoneFailure(t *testing.T) {
	g := &FakeGateway{FailPhones: map[string]error{"+1bad": errors.New("rejected")}}
	contacts := []types.EmergencyContact{{Phone: "+1bad"}, {Phone: "+1good"}}

	if err := g.Send(context.Background(), contacts, "msg"); err != nil {
		t.Fatalf("partial failure should still return nil, got %v", err)
	}
	if g.SentCount() != 1 {
		t.Fatalf("SentCount() = %d, want 1", g.SentCount())
	}

	g2 := &FakeGateway{FailPhones: map[string]error{"+1bad": errors.New("rejected")}}
	if err := g2.Send(context.Background(), []types.EmergencyContact{{Phone: "+1bad"}}, "msg"); err == nil {
		t.Fatal("expected error when every delivery fails")
	}
}
