package core

import (
	"time"

	"go.uber.org/zap"
)

type options struct {
	logger *zap.Logger
	now    func() time.Time
}

// Option configures an engine.
type Option func(*options)

// WithLogger sets the engine logger. A nil logger is replaced by zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}
