package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/HanTheDev/phone-checker/internal/confidence"
	"github.com/HanTheDev/phone-checker/internal/models"
)

const (
	defaultUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 15_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.6 Mobile/15E148 Safari/604.1"
	maxBodyBytes     = 1 << 20
)

type Options struct {
	BaseURL       string
	Headers       map[string]string
	RetryAttempts int
	Backoff       time.Duration
	UserAgent     string
	Scorer        *confidence.Scorer
	Logger        *slog.Logger
}

// adapter is the platform-specific half of an HTTPProber.
type adapter interface {
	newRequest(ctx context.Context, baseURL string, number models.PhoneNumber) (*http.Request, error)
	interpret(resp *http.Response, body []byte) (exists bool, meta map[string]string, err error)
}

// HTTPProber runs an adapter with shared headers, retries and scoring.
type HTTPProber struct {
	platform models.Platform
	client   *http.Client
	adapter  adapter
	opts     Options
}

var _ Prober = (*HTTPProber)(nil)

func newHTTPProber(platform models.Platform, client *http.Client, a adapter, opts Options) *HTTPProber {
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Scorer == nil {
		opts.Scorer = confidence.NewScorer()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &HTTPProber{platform: platform, client: client, adapter: a, opts: opts}
}

func (p *HTTPProber) Platform() models.Platform {
	return p.platform
}

func (p *HTTPProber) Probe(ctx context.Context, number models.PhoneNumber) (Result, error) {
	start := time.Now()
	resp, body, err := p.do(ctx, number)
	elapsed := time.Since(start)
	if err != nil {
		return Result{ResponseTime: elapsed}, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return Result{StatusCode: resp.StatusCode, ResponseTime: elapsed}, &Error{
			Platform: p.platform, Kind: models.ErrorProbeFailure, StatusCode: resp.StatusCode, Err: ErrThrottled,
		}
	}

	exists, meta, err := p.adapter.interpret(resp, body)
	if err != nil {
		return Result{StatusCode: resp.StatusCode, ResponseTime: elapsed}, &Error{
			Platform: p.platform, Kind: models.ErrorProbeFailure, StatusCode: resp.StatusCode, Err: err,
		}
	}

	if meta == nil {
		meta = make(map[string]string)
	}
	meta["status_code"] = strconv.Itoa(resp.StatusCode)

	return Result{
		Exists:       exists,
		Confidence:   p.opts.Scorer.Score(p.platform, resp.StatusCode, elapsed, 1),
		StatusCode:   resp.StatusCode,
		ResponseTime: elapsed,
		Metadata:     meta,
	}, nil
}

// do sends the request, retrying transport errors and 5xx answers other than
// 503 with growing backoff, as long as ctx allows.
func (p *HTTPProber) do(ctx context.Context, number models.PhoneNumber) (*http.Response, []byte, error) {
	var lastErr error
	for attempt := 0; attempt <= p.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			wait := p.opts.Backoff << (attempt - 1)
			p.opts.Logger.Debug("retrying probe", "platform", p.platform, "attempt", attempt, "wait", wait, "error", lastErr)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, nil, ctx.Err()
			case <-timer.C:
			}
		}

		req, err := p.adapter.newRequest(ctx, p.opts.BaseURL, number)
		if err != nil {
			return nil, nil, &Error{Platform: p.platform, Kind: models.ErrorProbeFailure, Err: err}
		}
		p.setHeaders(req)

		resp, err := p.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 && resp.StatusCode != http.StatusServiceUnavailable {
			lastErr = &Error{Platform: p.platform, Kind: models.ErrorProbeFailure, StatusCode: resp.StatusCode, Err: fmt.Errorf("server error")}
			continue
		}
		return resp, body, nil
	}

	if pe, ok := lastErr.(*Error); ok {
		return nil, nil, pe
	}
	return nil, nil, &Error{Platform: p.platform, Kind: KindOf(lastErr), Err: lastErr}
}

func (p *HTTPProber) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", p.opts.UserAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, text/html, */*")
	}
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en;q=0.8")
	for k, v := range p.opts.Headers {
		req.Header.Set(k, v)
	}
}
