package update

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	apperrors "uplift/internal/errors"
)

// userAgent is sent when no User-Agent header is configured.
const userAgent = "uplift-updater"

// validateHeaders checks configured header names and values the same way
// net/http does before sending them.
func validateHeaders(headers map[string]string) error {
	for name, value := range headers {
		if !httpguts.ValidHeaderFieldName(name) {
			return apperrors.New(apperrors.CodeConfigurationError, fmt.Sprintf("invalid header name %q", name), nil)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return apperrors.New(apperrors.CodeConfigurationError, fmt.Sprintf("invalid value for header %q", name), nil)
		}
	}
	return nil
}

// parseProxy validates a proxy URL. An empty string means no proxy.
func parseProxy(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeConfigurationError, "invalid proxy URL", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, apperrors.New(apperrors.CodeConfigurationError, fmt.Sprintf("unsupported proxy scheme %q", u.Scheme), nil)
	}
	if u.Host == "" {
		return nil, apperrors.New(apperrors.CodeConfigurationError, "proxy URL has no host", nil)
	}
	return u, nil
}

// newHTTPClient returns a client routed through proxy when set.
// Deadlines come from the request context, not the client.
func newHTTPClient(proxy *url.URL) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != nil {
		transport.Proxy = http.ProxyURL(proxy)
	}
	return &http.Client{Transport: transport}
}

// applyHeaders copies configured headers onto req, filling in defaults
// for Accept and User-Agent when they were not configured.
func applyHeaders(req *http.Request, headers map[string]string, accept string) {
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	if req.Header.Get("Accept") == "" && accept != "" {
		req.Header.Set("Accept", accept)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
}

// withTimeout bounds ctx by timeout when it is positive.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// networkError maps a transport failure to a timeout or download error.
func networkError(ctx context.Context, msg string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.New(apperrors.CodeTimeout, msg+": timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.New(apperrors.CodeTimeout, msg+": timed out", err)
	}
	return apperrors.New(apperrors.CodeDownload, msg, err)
}
