// Package metrics publishes operational telemetry to CloudWatch. Publishing
// is best-effort; callers treat failures as log-and-continue.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwTypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"remindwell/internal/types"
)

// CloudWatchAPI is the subset of the CloudWatch SDK client used by the
// publisher.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchPublisher emits orchestrator telemetry under a single namespace.
type CloudWatchPublisher struct {
	client    CloudWatchAPI
	namespace string
}

// NewCloudWatchPublisher creates a CloudWatchPublisher for the given
// namespace.
func NewCloudWatchPublisher(client CloudWatchAPI, namespace string) *CloudWatchPublisher {
	return &CloudWatchPublisher{client: client, namespace: namespace}
}

// PublishJobCycle emits one cycle's duration and outcome, dimensioned by job
// name so each job can carry its own alarm.
func (p *CloudWatchPublisher) PublishJobCycle(ctx context.Context, job types.JobName, took time.Duration, success bool) error {
	dims := []cwTypes.Dimension{
		{
			Name:  aws.String("Job"),
			Value: aws.String(string(job)),
		},
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []cwTypes.MetricDatum{
			{
				MetricName: aws.String("JobCycleDuration"),
				Value:      aws.Float64(float64(took.Milliseconds())),
				Unit:       cwTypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
			{
				MetricName: aws.String("JobCycleSuccess"),
				Value:      aws.Float64(outcome),
				Unit:       cwTypes.StandardUnitCount,
				Dimensions: dims,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish job cycle metrics: %w", err)
	}
	return nil
}

// PublishDeliverySummary emits the counts from one delivery cycle.
func (p *CloudWatchPublisher) PublishDeliverySummary(ctx context.Context, s types.ProcessSummary) error {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []cwTypes.MetricDatum{
			{
				MetricName: aws.String("WorkProcessed"),
				Value:      aws.Float64(float64(s.Processed)),
				Unit:       cwTypes.StandardUnitCount,
			},
			{
				MetricName: aws.String("WorkDelivered"),
				Value:      aws.Float64(float64(s.Delivered)),
				Unit:       cwTypes.StandardUnitCount,
			},
			{
				MetricName: aws.String("WorkFailed"),
				Value:      aws.Float64(float64(s.Failed)),
				Unit:       cwTypes.StandardUnitCount,
			},
			{
				MetricName: aws.String("WorkAdjusted"),
				Value:      aws.Float64(float64(s.AdjustedCount)),
				Unit:       cwTypes.StandardUnitCount,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish delivery summary metrics: %w", err)
	}
	return nil
}

// PublishBatteryImpact emits the estimated battery drain rate and the current
// charge level.
func (p *CloudWatchPublisher) PublishBatteryImpact(ctx context.Context, mahPerHour float64, levelPercent int) error {
	data := []cwTypes.MetricDatum{
		{
			MetricName: aws.String("BatteryImpactMAhPerHour"),
			Value:      aws.Float64(mahPerHour),
			Unit:       cwTypes.StandardUnitNone,
		},
	}
	// A negative level means the battery source was unavailable; skip the
	// gauge rather than publish a lie.
	if levelPercent >= 0 {
		data = append(data, cwTypes.MetricDatum{
			MetricName: aws.String("BatteryLevelPercent"),
			Value:      aws.Float64(float64(levelPercent)),
			Unit:       cwTypes.StandardUnitPercent,
		})
	}

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish battery impact metrics: %w", err)
	}
	return nil
}
