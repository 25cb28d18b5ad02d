package fetcher

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
	"github.com/Skryldev/sketch/utils"
)

// HTTPStackOptions configures NewHTTPStack.
type HTTPStackOptions struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	// Tracing wraps the transport with OpenTelemetry client spans.
	Tracing bool
	// Transport overrides http.DefaultTransport.
	Transport http.RoundTripper
}

// NetHTTPStack is the core.HTTPStack backed by net/http.  Redirects are
// followed by the client.
type NetHTTPStack struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

var _ core.HTTPStack = (*NetHTTPStack)(nil)

// NewHTTPStack builds a NetHTTPStack.
func NewHTTPStack(opts HTTPStackOptions) *NetHTTPStack {
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if opts.Tracing {
		transport = otelhttp.NewTransport(transport)
	}
	return &NetHTTPStack{
		client:       &http.Client{Timeout: opts.Timeout, Transport: transport},
		userAgent:    opts.UserAgent,
		maxBodyBytes: opts.MaxBodyBytes,
	}
}

func (s *NetHTTPStack) GetResponse(ctx context.Context, request *core.ImageRequest, url string) (core.HTTPResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "http.new_request", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	for name, value := range request.HTTPHeaders() {
		req.Header.Set(name, value)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "http.do", err)
	}
	return &netHTTPResponse{resp: resp, maxBodyBytes: s.maxBodyBytes}, nil
}

type netHTTPResponse struct {
	resp         *http.Response
	maxBodyBytes int64
}

func (r *netHTTPResponse) Code() int                 { return r.resp.StatusCode }
func (r *netHTTPResponse) ContentLength() int64      { return r.resp.ContentLength }
func (r *netHTTPResponse) ContentType() string       { return r.resp.Header.Get("Content-Type") }
func (r *netHTTPResponse) Header(name string) string { return r.resp.Header.Get(name) }

func (r *netHTTPResponse) Content() io.ReadCloser {
	if r.maxBodyBytes <= 0 {
		return r.resp.Body
	}
	return struct {
		io.Reader
		io.Closer
	}{&utils.LimitedReader{R: r.resp.Body, Max: r.maxBodyBytes}, r.resp.Body}
}
