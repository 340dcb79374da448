package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/apid/pkg/core"
	"github.com/vango-dev/apid/pkg/protocol"
)

// Default tracer name for apid.
const defaultTracerName = "apid"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "apid").
	TracerName string

	// IncludeIdentity adds the caller's identity to spans. Disabled by
	// default.
	IncludeIdentity bool

	// Filter determines which requests to trace. If nil, all requests are
	// traced.
	Filter func(req *core.Request) bool

	// AttributeExtractor adds custom attributes for each traced request.
	AttributeExtractor func(req *core.Request) []attribute.KeyValue

	// TracerProvider overrides the global provider.
	TracerProvider trace.TracerProvider
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithIncludeIdentity enables adding the caller identity to spans.
func WithIncludeIdentity(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeIdentity = include
	}
}

// WithRequestFilter sets a filter function for requests.
func WithRequestFilter(filter func(req *core.Request) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(req *core.Request) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// OpenTelemetry creates middleware that starts a server span for every
// service request. The span's context is passed down, so work a service
// schedules with that ctx joins the trace.
//
// The tracer comes from the global provider unless WithTracerProvider is
// given. Configure it in main() before starting the server:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) core.Middleware {
	config := OTelConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}

	var tracer trace.Tracer
	if config.TracerProvider != nil {
		tracer = config.TracerProvider.Tracer(config.TracerName)
	} else {
		tracer = otel.Tracer(config.TracerName)
	}

	return func(next core.RequestHandler) core.RequestHandler {
		return func(ctx context.Context, req *core.Request) error {
			if config.Filter != nil && !config.Filter(req) {
				return next(ctx, req)
			}

			attrs := requestAttributes(req)
			if config.IncludeIdentity && req.Origin != nil {
				attrs = append(attrs, attribute.String("apid.identity", req.Origin.Identity()))
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(req)...)
			}

			ctx, span := tracer.Start(ctx, spanName(req),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			err := next(ctx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return err
		}
	}
}

func requestAttributes(req *core.Request) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("apid.service", req.Service)}
	if req.Support != nil {
		attrs = append(attrs, attribute.Int64("apid.session_id", int64(req.Support.SessionID())))
	}
	if msg := req.Message; msg != nil {
		attrs = append(attrs,
			attribute.Int64("apid.service_id", int64(msg.ServiceID)),
			attribute.Int64("apid.object_id", int64(msg.ObjectID)),
			attribute.Int64("apid.request_id", int64(msg.RequestID)),
		)
		if tag, ok := requestTag(msg); ok {
			attrs = append(attrs, attribute.Int64("apid.request_tag", int64(tag)))
		}
	}
	return attrs
}

// requestTag peeks at the variant tag leading the request content.
func requestTag(msg *protocol.BaseMessage) (uint32, bool) {
	tag, err := protocol.NewDecoder(msg.Content).ReadTag()
	return tag, err == nil
}

func spanName(req *core.Request) string {
	if req.Service == "" {
		return "apid request"
	}
	return fmt.Sprintf("apid %s", req.Service)
}
