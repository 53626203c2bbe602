// Package probe talks to the external platforms. Each Prober sends one
// logical check per call and reports whether an account exists.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http2"

	"github.com/HanTheDev/phone-checker/internal/models"
)

type Result struct {
	Exists       bool
	Confidence   float64
	StatusCode   int
	ResponseTime time.Duration
	Metadata     map[string]string
}

type Prober interface {
	Platform() models.Platform
	Probe(ctx context.Context, number models.PhoneNumber) (Result, error)
}

// Error is a failed probe. Kind is the degraded-result category the caller
// should report.
type Error struct {
	Platform   models.Platform
	Kind       models.ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s probe: HTTP %d: %v", e.Platform, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s probe: %v", e.Platform, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	ErrThrottled       = errors.New("throttled by platform")
	ErrUnexpectedReply = errors.New("unexpected platform reply")
)

// KindOf maps any probe error onto timeout or probe_failure. A canceled
// context is the caller giving up, not a platform failure.
func KindOf(err error) models.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ErrorTimeout
	}
	var pe *Error
	if errors.As(err, &pe) && pe.Kind != "" {
		return pe.Kind
	}
	return models.ErrorProbeFailure
}

// NewHTTPClient returns the client shared by every prober. Redirects are not
// followed so adapters can read Location headers themselves.
func NewHTTPClient(proxyURL string) (*http.Client, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		DisableKeepAlives:     false,
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("failed to enable http2: %w", err)
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}
