// Package telemetry publishes operational counters for the safety pipeline.
// Production publishes to CloudWatch; tests and local runs use the noop
// collector.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names. All components use these constants.
const (
	MetricSOSDispatched  = "SOSDispatched"
	MetricNearbyNotified = "NearbyNotified"
	MetricNearbyFailed   = "NearbyFailed"
	MetricClubAlert      = "ClubAlertFired"
)

// Dimension keys.
const (
	DimReason    = "Reason"
	DimAlertType = "AlertType"
	DimClubID    = "ClubID"
)

// Collector records a named counter with optional dimensions. Implementations
// must be non-blocking from the caller's perspective and must never fail the
// caller: metric loss is always preferable to a failed dispatch.
type Collector interface {
	Count(ctx context.Context, name string, value float64, dims map[string]string)
}

// Noop is a Collector that discards everything.
type Noop struct{}

// Count implements Collector.
func (Noop) Count(context.Context, string, float64, map[string]string) {}

// CloudWatchAPI abstracts the PutMetricData operation for testability.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchCollector publishes counters to CloudWatch under a fixed
// namespace. Publication errors are logged and swallowed.
type CloudWatchCollector struct {
	client    CloudWatchAPI
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchCollector creates a CloudWatch-backed Collector.
func NewCloudWatchCollector(client CloudWatchAPI, namespace string, logger *slog.Logger) *CloudWatchCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchCollector{client: client, namespace: namespace, logger: logger}
}

// Count implements Collector.
func (c *CloudWatchCollector) Count(ctx context.Context, name string, value float64, dims map[string]string) {
	datum := cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  aws.Time(time.Now().UTC()),
	}
	for k, v := range dims {
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{
			Name:  aws.String(k),
			Value: aws.String(v),
		})
	}

	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		c.logger.Warn("metric publish failed", "metric", name, "error", err)
	}
}
