// Package report delivers stack lifecycle events to an operator endpoint.
// Delivery is best-effort: the runner never fails a deployment because an
// event could not be posted.
package report

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type Reporter struct {
	Endpoint string
	Type     string // tcp or unix

	SocketPath string
	HostPort   string
	BaseURL    string

	Token string // bearer token
}

// NewReporterFromEnv builds a reporter from STACK_EVENTS_ENDPOINT and the
// optional STACK_EVENTS_TOKEN. An unset endpoint means event reporting is
// disabled and (nil, nil) is returned.
func NewReporterFromEnv() (*Reporter, error) {
	endpoint := strings.TrimSpace(os.Getenv("STACK_EVENTS_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}

	r, err := NewReporter(endpoint)
	if err != nil {
		return nil, err
	}

	r.Token = strings.TrimSpace(os.Getenv("STACK_EVENTS_TOKEN"))
	return r, nil
}

// NewReporter parses an endpoint like:
//
//	unix:///var/run/events.sock
//	tcp://example.com:8080
func NewReporter(endpoint string) (*Reporter, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("invalid events endpoint %q: %w", endpoint, err)
	}

	r := &Reporter{Endpoint: endpoint}

	switch strings.ToLower(u.Scheme) {
	case "unix":
		// url.Parse treats unix:///path as Path="/path"
		if u.Path == "" {
			return nil, fmt.Errorf("unix endpoint missing socket path: %q", endpoint)
		}
		r.Type = "unix"
		r.SocketPath = u.Path

		// For HTTP requests over a unix socket, the URL host is ignored by
		// the transport, but net/http requires a valid URL.
		r.BaseURL = "http://events"

	case "tcp":
		// tcp://host:port
		if u.Host == "" {
			return nil, fmt.Errorf("tcp endpoint missing host:port: %q", endpoint)
		}
		r.Type = "tcp"
		r.HostPort = u.Host
		r.BaseURL = "http://" + u.Host

	default:
		return nil, fmt.Errorf("unsupported events endpoint scheme %q (use unix:// or tcp://)", u.Scheme)
	}

	return r, nil
}

// Client returns an *http.Client configured to talk to the endpoint over
// tcp or unix, plus the BaseURL to use for requests.
func (r *Reporter) Client() (*http.Client, string, error) {
	switch r.Type {
	case "tcp":
		return &http.Client{
			Timeout: 15 * time.Second,
		}, r.BaseURL, nil

	case "unix":
		dialer := &net.Dialer{Timeout: 10 * time.Second}

		tr := &http.Transport{
			// Ignore the addr and always dial the unix socket path
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.DialContext(ctx, "unix", r.SocketPath)
			},
		}

		return &http.Client{
			Transport: tr,
			Timeout:   15 * time.Second,
		}, r.BaseURL, nil

	default:
		return nil, "", fmt.Errorf("invalid reporter type %q", r.Type)
	}
}

// NewRequest builds a request against the endpoint, attaching the bearer
// token when one is configured.
func (r *Reporter) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.BaseURL+path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	return req, nil
}
