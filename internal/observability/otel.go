// Package observability configures OpenTelemetry tracing for supportd. The
// HTTP layer (otelgin), the database (gorm otel plugin) and the tool and chat
// services all report through the provider installed here.
//
// Spans of tools that change state (RMAs, labels, escalations, credits) are
// always kept; everything else follows the configured ratio.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/tbourn/go-support-agent/internal/config"
)

// AttrSideEffect marks a tool span whose call may write to the store.
const AttrSideEffect = attribute.Key("tool.side_effect")

// SideEffect returns the AttrSideEffect attribute for a tool span.
func SideEffect(writes bool) attribute.KeyValue { return AttrSideEffect.Bool(writes) }

// Seams replaced in tests.
var (
	newOTLPClient = otlptracegrpc.NewClient

	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, client)
	}

	newServiceResourceFn = func(ctx context.Context, serviceName, version string) (*resource.Resource, error) {
		return resource.New(ctx, resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		))
	}
)

// SetupOTel installs the global tracer provider and propagator and returns
// its shutdown function. It is a no-op when tracing is disabled. attrs are
// merged into the service resource, e.g. the agent mode.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, version string, attrs ...attribute.KeyValue) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newOTLPExporterFn(ctx, newOTLPClient(clientOptions(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	res, err := newServiceResourceFn(ctx, cfg.ServiceName, version)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	if len(attrs) > 0 {
		if res, err = resource.Merge(res, resource.NewSchemaless(attrs...)); err != nil {
			return nil, fmt.Errorf("otel resource: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(NewSampler(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func clientOptions(cfg config.OTELConfig) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		return append(opts, otlptracegrpc.WithInsecure())
	}
	return append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
}

// NewSampler samples root spans marked with SideEffect(true) unconditionally
// and the rest at ratio, clamped to [0, 1].
func NewSampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio < 0:
		ratio = 0
	case ratio > 1:
		ratio = 1
	}
	return sideEffectSampler{ratio: sdktrace.TraceIDRatioBased(ratio)}
}

type sideEffectSampler struct {
	ratio sdktrace.Sampler
}

func (s sideEffectSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, kv := range p.Attributes {
		if kv.Key == AttrSideEffect && kv.Value.AsBool() {
			return sdktrace.AlwaysSample().ShouldSample(p)
		}
	}
	return s.ratio.ShouldSample(p)
}

func (s sideEffectSampler) Description() string {
	return "SideEffectOr{" + s.ratio.Description() + "}"
}
