package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwTypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"remindwell/internal/types"
)

// mockCloudWatch captures PutMetricData calls for assertions.
type mockCloudWatch struct {
	calls []*cloudwatch.PutMetricDataInput
	err   error
}

func (m *mockCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func findDatum(t *testing.T, data []cwTypes.MetricDatum, name string) cwTypes.MetricDatum {
	t.Helper()
	for _, d := range data {
		if aws.ToString(d.MetricName) == name {
			return d
		}
	}
	t.Fatalf("metric %q not published", name)
	return cwTypes.MetricDatum{}
}

func TestPublishJobCycle_DimensionsAndOutcome(t *testing.T) {
	mock := &mockCloudWatch{}
	p := NewCloudWatchPublisher(mock, "Remindwell")

	err := p.PublishJobCycle(context.Background(), types.JobDeliverDueWork, 250*time.Millisecond, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(mock.calls))
	}
	input := mock.calls[0]
	if aws.ToString(input.Namespace) != "Remindwell" {
		t.Errorf("namespace = %q", aws.ToString(input.Namespace))
	}

	dur := findDatum(t, input.MetricData, "JobCycleDuration")
	if aws.ToFloat64(dur.Value) != 250 {
		t.Errorf("duration = %v, want 250", aws.ToFloat64(dur.Value))
	}
	if len(dur.Dimensions) != 1 || aws.ToString(dur.Dimensions[0].Value) != "deliver_due_work" {
		t.Errorf("unexpected dimensions: %+v", dur.Dimensions)
	}

	outcome := findDatum(t, input.MetricData, "JobCycleSuccess")
	if aws.ToFloat64(outcome.Value) != 0 {
		t.Errorf("failed cycle should publish 0, got %v", aws.ToFloat64(outcome.Value))
	}
}

func TestPublishDeliverySummary_AllCounts(t *testing.T) {
	mock := &mockCloudWatch{}
	p := NewCloudWatchPublisher(mock, "Remindwell")

	s := types.ProcessSummary{Processed: 10, Delivered: 7, Failed: 3, AdjustedCount: 2}
	if err := p.PublishDeliverySummary(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := mock.calls[0].MetricData
	for name, want := range map[string]float64{
		"WorkProcessed": 10,
		"WorkDelivered": 7,
		"WorkFailed":    3,
		"WorkAdjusted":  2,
	} {
		if got := aws.ToFloat64(findDatum(t, data, name).Value); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestPublishBatteryImpact_SkipsGaugeWhenLevelUnknown(t *testing.T) {
	mock := &mockCloudWatch{}
	p := NewCloudWatchPublisher(mock, "Remindwell")

	if err := p.PublishBatteryImpact(context.Background(), 4.5, -1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := mock.calls[0].MetricData
	if len(data) != 1 {
		t.Fatalf("expected only the impact metric, got %d data points", len(data))
	}
	if got := aws.ToFloat64(findDatum(t, data, "BatteryImpactMAhPerHour").Value); got != 4.5 {
		t.Errorf("impact = %v, want 4.5", got)
	}
}

func TestPublish_WrapsClientError(t *testing.T) {
	mock := &mockCloudWatch{err: errors.New("throttled")}
	p := NewCloudWatchPublisher(mock, "Remindwell")

	if err := p.PublishBatteryImpact(context.Background(), 1.0, 80); err == nil {
		t.Fatal("expected error")
	}
}
