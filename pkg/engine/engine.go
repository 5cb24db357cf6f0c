// Package engine implements the credential lifecycle: the validate state
// machine on the hot path and the mint/revoke/list/project mutations.
//
// Validation runs against the read-only validator store handle; mutations
// run against the manager handle. The Redis ACLs behind the two handles
// enforce the split, the engine just keeps the calls on the right side.
package engine

import (
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/keymaster/pkg/observability"
	"github.com/Mindburn-Labs/keymaster/pkg/store"
)

// DefaultRatePerMinute is the per-key validation budget within one
// minute bucket.
const DefaultRatePerMinute = 100

// Default pagination bounds for ListKeys.
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// Engine orchestrates validation and management over the two store handles.
type Engine struct {
	validator *store.Store
	manager   *store.Store
	logger    *slog.Logger
	metrics   *observability.Metrics
	rateLimit int64
	now       func() time.Time
}

// Config tunes an Engine. Zero values fall back to defaults.
type Config struct {
	RatePerMinute int64
	Logger        *slog.Logger
	Metrics       *observability.Metrics
	Now           func() time.Time // test clock
}

// New builds an Engine over the validator and manager handles.
func New(validator, manager *store.Store, cfg Config) *Engine {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = DefaultRatePerMinute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		validator: validator,
		manager:   manager,
		logger:    cfg.Logger.With("component", "engine"),
		metrics:   cfg.Metrics,
		rateLimit: cfg.RatePerMinute,
		now:       cfg.Now,
	}
}
