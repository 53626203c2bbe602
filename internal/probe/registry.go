package probe

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/HanTheDev/phone-checker/internal/config"
	"github.com/HanTheDev/phone-checker/internal/confidence"
	"github.com/HanTheDev/phone-checker/internal/models"
)

type constructor func(client *http.Client, opts Options) *HTTPProber

var builtins = map[models.Platform]constructor{
	models.WhatsApp:  NewWhatsApp,
	models.Telegram:  NewTelegram,
	models.Instagram: NewInstagram,
	models.Snapchat:  NewSnapchat,
}

// Registry maps platforms to their prober.
type Registry struct {
	mu      sync.RWMutex
	probers map[models.Platform]Prober
}

func NewRegistry(probers ...Prober) *Registry {
	r := &Registry{probers: make(map[models.Platform]Prober)}
	for _, p := range probers {
		r.Register(p)
	}
	return r
}

// FromConfig builds the probers of every enabled built-in platform.
func FromConfig(cfg *config.Config, client *http.Client, scorer *confidence.Scorer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := NewRegistry()
	for _, p := range cfg.EnabledPlatforms() {
		build, ok := builtins[p]
		if !ok {
			logger.Warn("no prober for configured platform", "platform", p)
			continue
		}
		pc := cfg.Platform(p)
		r.Register(build(client, Options{
			BaseURL:       pc.BaseURL,
			Headers:       pc.Headers,
			RetryAttempts: pc.RetryAttempts,
			UserAgent:     cfg.UserAgent,
			Scorer:        scorer,
			Logger:        logger,
		}))
	}
	return r
}

func (r *Registry) Register(p Prober) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probers[p.Platform()] = p
}

func (r *Registry) Get(platform models.Platform) (Prober, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.probers[platform]
	return p, ok
}

// Platforms lists registered platforms, built-ins first in their usual order.
func (r *Registry) Platforms() []models.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Platform
	seen := make(map[models.Platform]bool)
	for _, p := range models.KnownPlatforms {
		if _, ok := r.probers[p]; ok {
			out = append(out, p)
			seen[p] = true
		}
	}
	var extra []models.Platform
	for p := range r.probers {
		if !seen[p] {
			extra = append(extra, p)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}
