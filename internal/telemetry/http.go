package telemetry

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewTracedHTTPClient returns an HTTP client whose transport records a
// span for every outbound request and injects W3C TraceContext headers,
// so backend calls show up under the workflow span that issued them.
// baseTransport may be nil, in which case http.DefaultTransport is
// wrapped. Safe to use before Init: spans are no-ops until a provider
// is installed.
func NewTracedHTTPClient(baseTransport http.RoundTripper) *http.Client {
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(baseTransport),
	}
}
