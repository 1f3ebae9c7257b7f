package bazaarcli

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"
	"github.com/tj/assert"
)

type fakeCloudWatch struct {
	cloudwatchiface.CloudWatchAPI
	inputs []*cloudwatch.PutMetricDataInput
}

func (f *fakeCloudWatch) PutMetricDataWithContext(_ aws.Context, input *cloudwatch.PutMetricDataInput, _ ...request.Option) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, input)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestMetrics(t *testing.T) {
	service := Service{Name: "gateway", Version: "abc"}
	api := &fakeCloudWatch{}
	metrics := NewMetrics(service, api)
	ctx := context.Background()

	metrics.Gauge(ctx, ConnectionsMetric, 12)
	metrics.Event(ctx, AuthFailureMetric, map[DimensionName]string{ReasonDimension: "expired"})
	metrics.Timing(ctx, ResponseTimeMetric, time.Now())

	assert.Len(t, api.inputs, 3)

	gauge := api.inputs[0]
	assert.Equal(t, Namespace, aws.StringValue(gauge.Namespace))
	assert.Equal(t, "Connections", aws.StringValue(gauge.MetricData[0].MetricName))
	assert.EqualValues(t, 12, aws.Float64Value(gauge.MetricData[0].Value))
	assert.Len(t, gauge.MetricData[0].Dimensions, 2)

	event := api.inputs[1].MetricData[0]
	assert.Equal(t, cloudwatch.StandardUnitCount, aws.StringValue(event.Unit))
	dims := map[string]string{}
	for _, d := range event.Dimensions {
		dims[aws.StringValue(d.Name)] = aws.StringValue(d.Value)
	}
	assert.Equal(t, map[string]string{"Service": "gateway", "Version": "abc", "Reason": "expired"}, dims)
}

func TestMetricsWithoutClient(t *testing.T) {
	metrics := NewMetrics(Service{Name: "gateway"}, nil)
	metrics.Gauge(context.Background(), ConnectionsMetric, 1)
}

func TestEnvVar(t *testing.T) {
	assert.Equal(t, "JWT_SECRET", envVar("jwt-secret"))
	assert.Equal(t, "MAX_CONNECTIONS_PER_IDENTITY", envVar("max-connections-per-identity"))
}
