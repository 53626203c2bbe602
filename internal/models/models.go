package models

import (
	"time"

	"github.com/google/uuid"
)

type Platform string

const (
	WhatsApp  Platform = "whatsapp"
	Telegram  Platform = "telegram"
	Instagram Platform = "instagram"
	Snapchat  Platform = "snapchat"
)

// KnownPlatforms lists the platforms with a built-in prober, in display order.
var KnownPlatforms = []Platform{WhatsApp, Telegram, Instagram, Snapchat}

type PhoneNumber struct {
	E164        string `json:"e164"`
	CountryCode int    `json:"country_code"`
	National    string `json:"national"`
	Region      string `json:"region"`
	Mobile      bool   `json:"mobile"`
}

// Digits returns the E.164 number without the leading plus sign.
func (p PhoneNumber) Digits() string {
	if len(p.E164) > 0 && p.E164[0] == '+' {
		return p.E164[1:]
	}
	return p.E164
}

type PhoneRequest struct {
	RequestID    uuid.UUID     `json:"request_id"`
	Number       PhoneNumber   `json:"number"`
	Platforms    []Platform    `json:"platforms"`
	ForceRefresh bool          `json:"force_refresh"`
	Timeout      time.Duration `json:"timeout"`
}

type ErrorKind string

const (
	ErrorRateLimited      ErrorKind = "rate_limited"
	ErrorTimeout          ErrorKind = "timeout"
	ErrorProbeFailure     ErrorKind = "probe_failure"
	ErrorCacheUnavailable ErrorKind = "cache_unavailable"
)

type PlatformResult struct {
	Platform     Platform          `json:"platform"`
	Exists       bool              `json:"exists"`
	Confidence   float64           `json:"confidence"`
	CheckedAt    time.Time         `json:"checked_at"`
	FromCache    bool              `json:"from_cache"`
	Freshness    float64           `json:"freshness,omitempty"`
	ErrorKind    ErrorKind         `json:"error_kind,omitempty"`
	Error        string            `json:"error,omitempty"`
	ResponseTime time.Duration     `json:"response_time_ns"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Failed reports whether the result carries an error kind instead of an outcome.
func (r PlatformResult) Failed() bool {
	return r.ErrorKind != ""
}

type Outcome string

const (
	OutcomeFound           Outcome = "found"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeNotFoundPartial Outcome = "not_found_partial"
	OutcomeErrorsNotFound  Outcome = "errors_not_found"
)

type Summary struct {
	PlatformsFound    []Platform `json:"platforms_found"`
	PlatformsNotFound []Platform `json:"platforms_not_found"`
	PlatformsError    []Platform `json:"platforms_error"`
	SuccessfulChecks  int        `json:"successful_checks"`
	FailedChecks      int        `json:"failed_checks"`
	SuccessRate       float64    `json:"success_rate"`
	Outcome           Outcome    `json:"outcome"`
}

type CheckResponse struct {
	Request   PhoneRequest     `json:"request"`
	Results   []PlatformResult `json:"results"`
	Summary   Summary          `json:"summary"`
	TotalTime time.Duration    `json:"total_time_ns"`
}

// Summarize derives the aggregate view of results, which must be in request order.
func Summarize(results []PlatformResult) Summary {
	s := Summary{
		PlatformsFound:    []Platform{},
		PlatformsNotFound: []Platform{},
		PlatformsError:    []Platform{},
	}
	for _, r := range results {
		switch {
		case r.Failed():
			s.PlatformsError = append(s.PlatformsError, r.Platform)
			s.FailedChecks++
		case r.Exists:
			s.PlatformsFound = append(s.PlatformsFound, r.Platform)
			s.SuccessfulChecks++
		default:
			s.PlatformsNotFound = append(s.PlatformsNotFound, r.Platform)
			s.SuccessfulChecks++
		}
	}
	if len(results) > 0 {
		s.SuccessRate = float64(s.SuccessfulChecks) / float64(len(results))
	}

	switch {
	case len(s.PlatformsFound) > 0:
		s.Outcome = OutcomeFound
	case s.FailedChecks == 0:
		s.Outcome = OutcomeNotFound
	case s.FailedChecks < len(results):
		s.Outcome = OutcomeNotFoundPartial
	default:
		s.Outcome = OutcomeErrorsNotFound
	}
	return s
}

type CacheEntry struct {
	Phone      string    `json:"phone"`
	Platform   Platform  `json:"platform"`
	Exists     bool      `json:"exists"`
	Confidence float64   `json:"confidence"`
	StoredAt   time.Time `json:"stored_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Freshness  float64   `json:"-"`
}

// Key is the storage key of the entry.
func (e CacheEntry) Key() string {
	return CacheKey(e.Phone, e.Platform)
}

// CacheKey builds the storage key for a normalized phone and a platform.
func CacheKey(phone string, platform Platform) string {
	return phone + ":" + string(platform)
}
