// Package confidence scores how much a probe outcome can be trusted, from
// the platform's track record, the quality of the HTTP answer and the age of
// the data.
package confidence

import (
	"math"
	"sync"
	"time"

	"github.com/HanTheDev/phone-checker/internal/models"
)

const (
	weightPlatform = 0.4
	weightResponse = 0.3
	weightAge      = 0.3

	// alpha is the smoothing factor of the success-rate moving average.
	alpha = 0.01

	slowResponse = 5 * time.Second
)

var baseReliability = map[models.Platform]float64{
	models.WhatsApp:  0.9,
	models.Telegram:  0.85,
	models.Instagram: 0.75,
	models.Snapchat:  0.7,
}

const defaultReliability = 0.8

type reliability struct {
	base        float64
	successRate float64
	timeouts    int
	lastFailure time.Time
}

// Scorer is safe for concurrent use.
type Scorer struct {
	mu        sync.Mutex
	platforms map[models.Platform]*reliability
}

type Reliability struct {
	Platform    models.Platform `json:"platform"`
	Base        float64         `json:"base"`
	SuccessRate float64         `json:"success_rate"`
	Timeouts    int             `json:"timeouts"`
	LastFailure time.Time       `json:"last_failure,omitempty"`
	Score       float64         `json:"score"`
}

func NewScorer() *Scorer {
	return &Scorer{platforms: make(map[models.Platform]*reliability)}
}

func (s *Scorer) get(p models.Platform) *reliability {
	r, ok := s.platforms[p]
	if !ok {
		base, known := baseReliability[p]
		if !known {
			base = defaultReliability
		}
		r = &reliability{base: base, successRate: 1}
		s.platforms[p] = r
	}
	return r
}

func (r *reliability) score() float64 {
	return r.base * r.successRate * math.Pow(0.9, float64(r.timeouts))
}

// Record feeds one probe outcome into the platform's track record.
func (s *Scorer) Record(p models.Platform, success, timedOut bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.get(p)
	outcome := 0.0
	if success {
		outcome = 1
	}
	r.successRate = r.successRate*(1-alpha) + outcome*alpha
	if !success {
		r.lastFailure = time.Now()
		if timedOut {
			r.timeouts++
		}
	}
}

// Score combines the platform record with the HTTP status and latency of the
// answer. freshness is 1 for live data and the cache freshness otherwise.
func (s *Scorer) Score(p models.Platform, statusCode int, responseTime time.Duration, freshness float64) float64 {
	s.mu.Lock()
	platformScore := s.get(p).score()
	s.mu.Unlock()

	total := platformScore*weightPlatform +
		ResponseScore(statusCode, responseTime)*weightResponse +
		clamp(freshness)*weightAge
	return math.Round(total*100) / 100
}

func (s *Scorer) Reliability(p models.Platform) Reliability {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.get(p)
	return Reliability{
		Platform:    p,
		Base:        r.base,
		SuccessRate: r.successRate,
		Timeouts:    r.timeouts,
		LastFailure: r.lastFailure,
		Score:       r.score(),
	}
}

// ResponseScore rates an HTTP answer: 70% status code, 30% latency.
func ResponseScore(statusCode int, responseTime time.Duration) float64 {
	var status float64
	switch statusCode {
	case 200:
		status = 1
	case 201, 202, 203:
		status = 0.9
	case 429, 503:
		status = 0.3
	default:
		status = 0.5
	}

	latency := clamp(float64(slowResponse-responseTime) / float64(4500*time.Millisecond))
	return status*0.7 + latency*0.3
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
