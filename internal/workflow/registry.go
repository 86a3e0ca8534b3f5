package workflow

import (
	"context"

	"github.com/arcway/mcpmux/internal/backend"
)

// Registry is the slice of backend.Registry every handler needs. A
// narrow interface keeps handlers testable against stub registries.
type Registry interface {
	Request(ctx context.Context, name string, req backend.Request) (backend.Response, error)
	RequestWithFallback(ctx context.Context, preferred string, req backend.Request) (backend.FallbackResult, error)
	IsHealthy(name string) bool
	FallbackChain() []string
}
