package relay

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/odvcencio/twine/pkg/relay")
var meter = otel.Meter("github.com/odvcencio/twine/pkg/relay")

const (
	// endpointAttr labels each record with the relay endpoint that served it.
	endpointAttr = "endpoint"
	// statusAttr labels each request record with its HTTP status code.
	statusAttr = "status"
)

var (
	// requestDuration measures how long the relay took to serve one request.
	//
	// Each record is associated with endpointAttr and statusAttr.
	requestDuration metric.Float64Histogram
	// appendedTwists counts twists the relay appended to its own line.
	appendedTwists metric.Int64Counter
	// rigEntries counts hoist and post commitments recorded by the relay.
	rigEntries metric.Int64Counter
)

func init() {
	var err error
	requestDuration, err = meter.Float64Histogram(
		"relay.request.duration",
		metric.WithDescription("The duration of a single relay HTTP request."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("relay: failed to init 'relay.request.duration' instrument")
	}

	appendedTwists, err = meter.Int64Counter(
		"relay.twists.appended",
		metric.WithDescription("The number of twists appended to the relay line."),
	)
	if err != nil {
		panic("relay: failed to init 'relay.twists.appended' instrument")
	}

	rigEntries, err = meter.Int64Counter(
		"relay.rigging.entries",
		metric.WithDescription("The number of rigging commitments recorded by the relay."),
	)
	if err != nil {
		panic("relay: failed to init 'relay.rigging.entries' instrument")
	}
}

// measureRequest records the duration of one served request.
func measureRequest(ctx context.Context, endpoint string, status int, d time.Duration) {
	attrs := attribute.NewSet(
		attribute.String(endpointAttr, endpoint),
		attribute.Int(statusAttr, status),
	)
	requestDuration.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributeSet(attrs))
}

// measureAppend records one appended relay twist carrying n rigging entries.
func measureAppend(ctx context.Context, n int) {
	appendedTwists.Add(ctx, 1)
	if n > 0 {
		rigEntries.Add(ctx, int64(n))
	}
}
