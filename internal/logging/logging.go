// Package logging wraps github.com/rs/zerolog behind the narrow
// Debugw/Infow/Warnw/Errorw interface every other package in this module
// depends on. Every component takes this interface rather than a
// concrete zerolog type, so tests can stub it trivially.
package logging

import (
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

// Logger is the logging surface every internal package depends on.
// internal/api, internal/client, internal/control, internal/processor,
// internal/statusbus, internal/supervisor and internal/sync each declare
// their own narrow
// subset of this method set locally so they never import this package's
// concrete type.
type Logger interface {
	Debugw(msg string, kv ...any)
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
}

// Zerolog is the production Logger, grounded on pkg/engine/logger.go:
// stderr sink, timestamped, with an optional random sampler for
// Warn/Error levels to keep a noisy fleet from flooding logs.
type Zerolog struct {
	logger  zerolog.Logger
	sampler zerolog.Sampler
	sampled zerolog.Logger
}

// New builds a Zerolog logger writing to stderr. If the
// WIS2WATCH_LOG_SAMPLE_N environment variable is set to an integer > 1,
// WARN/ERROR output is randomly sampled at 1-in-N to bound log volume
// from a flapping node.
func New() *Zerolog {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	var samp zerolog.Sampler
	if v := os.Getenv("WIS2WATCH_LOG_SAMPLE_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			samp = zerolog.RandomSampler(uint32(n))
		}
	}
	var sampled zerolog.Logger
	if samp != nil {
		sampled = l.Sample(samp)
	}
	return &Zerolog{logger: l, sampler: samp, sampled: sampled}
}

// WithLevel parses a textual level (debug/info/warn/error) and applies it
// as the global zerolog level, falling back to info on an empty or
// unrecognised value.
func (z *Zerolog) WithLevel(level string) *Zerolog {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return z
}

func (z *Zerolog) event(e *zerolog.Event, msg string, kv ...any) {
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = "field"
		}
		if i+1 < len(kv) {
			e = e.Interface(key, kv[i+1])
		} else {
			e = e.Interface(key, nil)
		}
	}
	e.Msg(msg)
}

func (z *Zerolog) Debugw(msg string, kv ...any) { z.event(z.logger.Debug(), msg, kv...) }
func (z *Zerolog) Infow(msg string, kv ...any)  { z.event(z.logger.Info(), msg, kv...) }

func (z *Zerolog) Warnw(msg string, kv ...any) {
	if z.sampler != nil {
		z.event(z.sampled.Warn(), msg, kv...)
		return
	}
	z.event(z.logger.Warn(), msg, kv...)
}

func (z *Zerolog) Errorw(msg string, kv ...any) {
	if z.sampler != nil {
		z.event(z.sampled.Error(), msg, kv...)
		return
	}
	z.event(z.logger.Error(), msg, kv...)
}

var _ Logger = (*Zerolog)(nil)
