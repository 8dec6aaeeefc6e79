package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
)

type fakeCW struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCW) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, f.err
}

func TestCloudWatchCollector_Count(t *testing.T) {
	cw := &fakeCW{}
	c := NewCloudWatchCollector(cw, "TrekMate", slog.New(slog.NewTextHandler(io.Discard, nil)))

	c.Count(context.Background(), MetricNearbyNotified, 3, map[string]string{DimReason: "fall"})

	if len(cw.inputs) != 1 {
		t.Fatalf("PutMetricData called %d times, want 1", len(cw.inputs))
	}
	in := cw.inputs[0]
	if *in.Namespace != "TrekMate" {
		t.Errorf("namespace = %q", *in.Namespace)
	}
	if len(in.MetricData) != 1 || *in.MetricData[0].MetricName != MetricNearbyNotified {
		t.Fatalf("unexpected metric data %+v", in.MetricData)
	}
	if *in.MetricData[0].Value != 3 {
		t.Errorf("value = %v, want 3", *in.MetricData[0].Value)
	}
	if len(in.MetricData[0].Dimensions) != 1 {
		t.Errorf("dimensions = %+v", in.MetricData[0].Dimensions)
	}
}

func TestCloudWatchCollector_SwallowsErrors(t *testing.T) {
	cw := &fakeCW{err: errors.New("throttled")}
	c := NewCloudWatchCollector(cw, "TrekMate", slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Must not panic or surface the error.
	c.Count(context.Background(), MetricSOSDispatched, 1, nil)
}
