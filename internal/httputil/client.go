package httputil

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second

	userAgent = "gradecast/1.0 (+https://github.com/kentwelham/gradecast)"
)

// NewClient returns an HTTP client with the standard timeout and a
// stable User-Agent on every request.
func NewClient() *http.Client {
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: &userAgentTransport{base: http.DefaultTransport},
	}
}

type userAgentTransport struct {
	base http.RoundTripper
}

// RoundTrip clones the request before mutating it; transports must not
// modify the caller's request.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", userAgent)
	return t.base.RoundTrip(r)
}
