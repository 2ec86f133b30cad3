package reddit

import (
	"fmt"
	"net/http"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Doer sends one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// userAgentTransport stamps the client identifier on every request, the
// OAuth token exchange included.
type userAgentTransport struct {
	userAgent string
	base      http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

// NewHTTPClient returns a net/http client with an instrumented transport.
func NewHTTPClient(userAgent string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &userAgentTransport{
			userAgent: userAgent,
			base:      otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type fhttpDoer interface {
	Do(req *fhttp.Request) (*fhttp.Response, error)
}

// tlsDoer runs net/http requests through tls-client so the TLS handshake
// carries a browser fingerprint.
type tlsDoer struct {
	client fhttpDoer
}

// NewTLSDoer builds a Doer backed by tls-client with the default browser
// profile. A non-positive timeout means DefaultTimeout.
func NewTLSDoer(timeout time.Duration) (Doer, error) {
	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(),
		tls_client.WithTimeoutSeconds(timeoutSeconds(timeout)),
		tls_client.WithClientProfile(profiles.DefaultClientProfile),
	)
	if err != nil {
		return nil, fmt.Errorf("create tls client: %w", err)
	}
	return &tlsDoer{client: client}, nil
}

func timeoutSeconds(timeout time.Duration) int {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (d *tlsDoer) Do(req *http.Request) (*http.Response, error) {
	freq, err := fhttp.NewRequestWithContext(req.Context(), req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Header {
		freq.Header[k] = append([]string(nil), v...)
	}

	fresp, err := d.client.Do(freq)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		Status:        fresp.Status,
		StatusCode:    fresp.StatusCode,
		Proto:         fresp.Proto,
		Header:        http.Header(fresp.Header),
		Body:          fresp.Body,
		ContentLength: fresp.ContentLength,
		Request:       req,
	}, nil
}
