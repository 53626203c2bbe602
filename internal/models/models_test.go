package models

import (
	"reflect"
	"testing"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name        string
		results     []PlatformResult
		wantOutcome Outcome
		wantFound   []Platform
		wantRate    float64
	}{
		{
			name: "found on one platform",
			results: []PlatformResult{
				{Platform: WhatsApp, Exists: true},
				{Platform: Telegram},
			},
			wantOutcome: OutcomeFound,
			wantFound:   []Platform{WhatsApp},
			wantRate:    1,
		},
		{
			name: "found with an error elsewhere",
			results: []PlatformResult{
				{Platform: WhatsApp, Exists: true},
				{Platform: Telegram, ErrorKind: ErrorTimeout},
			},
			wantOutcome: OutcomeFound,
			wantFound:   []Platform{WhatsApp},
			wantRate:    0.5,
		},
		{
			name: "clean not found",
			results: []PlatformResult{
				{Platform: WhatsApp},
				{Platform: Telegram},
			},
			wantOutcome: OutcomeNotFound,
			wantFound:   []Platform{},
			wantRate:    1,
		},
		{
			name: "not found with partial errors",
			results: []PlatformResult{
				{Platform: WhatsApp},
				{Platform: Telegram, ErrorKind: ErrorRateLimited},
			},
			wantOutcome: OutcomeNotFoundPartial,
			wantFound:   []Platform{},
			wantRate:    0.5,
		},
		{
			name: "every platform errored",
			results: []PlatformResult{
				{Platform: WhatsApp, ErrorKind: ErrorProbeFailure},
				{Platform: Telegram, ErrorKind: ErrorTimeout},
			},
			wantOutcome: OutcomeErrorsNotFound,
			wantFound:   []Platform{},
			wantRate:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.results)
			if got.Outcome != tt.wantOutcome {
				t.Errorf("Summarize() outcome = %q, want %q", got.Outcome, tt.wantOutcome)
			}
			if !reflect.DeepEqual(got.PlatformsFound, tt.wantFound) {
				t.Errorf("Summarize() found = %v, want %v", got.PlatformsFound, tt.wantFound)
			}
			if got.SuccessRate != tt.wantRate {
				t.Errorf("Summarize() success rate = %v, want %v", got.SuccessRate, tt.wantRate)
			}
			if got.SuccessfulChecks+got.FailedChecks != len(tt.results) {
				t.Errorf("Summarize() counted %d results, want %d", got.SuccessfulChecks+got.FailedChecks, len(tt.results))
			}
		})
	}
}

func TestPhoneNumberDigits(t *testing.T) {
	p := PhoneNumber{E164: "+33612345678"}
	if got := p.Digits(); got != "33612345678" {
		t.Errorf("Digits() = %q, want %q", got, "33612345678")
	}
}

func TestCacheKey(t *testing.T) {
	e := CacheEntry{Phone: "+33612345678", Platform: Telegram}
	if got := e.Key(); got != "+33612345678:telegram" {
		t.Errorf("Key() = %q, want %q", got, "+33612345678:telegram")
	}
}
