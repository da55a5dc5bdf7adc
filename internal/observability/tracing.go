package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ent0n29/tunesmith"

// Tracer returns the service tracer from the globally installed provider.
// Without an installed SDK provider this is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
