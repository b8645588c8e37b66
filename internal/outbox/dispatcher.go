package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sink delivers one message to its downstream system.
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ctx context.Context, msg Message) error

func (f SinkFunc) Deliver(ctx context.Context, msg Message) error { return f(ctx, msg) }

const (
	DefaultPollInterval = 5 * time.Second
	DefaultBatchSize    = 100
	DefaultMaxAttempts  = 10
	DefaultBaseBackoff  = time.Second
	DefaultMaxBackoff   = 10 * time.Minute
)

type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	Logger       *zap.Logger
	Now          func() time.Time
}

// DrainResult counts what one pass over the due messages did.
type DrainResult struct {
	Delivered int `json:"delivered"`
	Retried   int `json:"retried"`
	Dead      int `json:"dead"`
}

// Dispatcher moves due messages from a Store to a Sink. Failed deliveries are
// retried with exponential backoff until MaxAttempts, then parked as DEAD.
type Dispatcher struct {
	store Store
	sink  Sink
	cfg   DispatcherConfig
	log   *zap.Logger
}

func NewDispatcher(store Store, sink Sink, cfg DispatcherConfig) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{store: store, sink: sink, cfg: cfg, log: log}
}

// Backoff is the delay before retry number attempts (1-based): base doubled
// per earlier attempt, capped at max.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// DrainOnce delivers every message due now, up to the batch size.
func (d *Dispatcher) DrainOnce(ctx context.Context) (DrainResult, error) {
	var res DrainResult
	msgs, err := d.store.Due(ctx, d.cfg.Now(), d.cfg.BatchSize)
	if err != nil {
		return res, err
	}
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		deliverErr := d.sink.Deliver(ctx, msg)
		now := d.cfg.Now()
		if deliverErr == nil {
			if err := d.store.MarkDelivered(ctx, msg.ID, now); err != nil {
				return res, err
			}
			res.Delivered++
			continue
		}

		attempts := msg.Attempts + 1
		dead := attempts >= d.cfg.MaxAttempts
		next := now.Add(Backoff(attempts, d.cfg.BaseBackoff, d.cfg.MaxBackoff))
		if err := d.store.MarkFailed(ctx, msg.ID, attempts, next, deliverErr.Error(), dead); err != nil {
			return res, err
		}
		if dead {
			res.Dead++
			d.log.Error("outbox message dead-lettered",
				zap.String("id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.Int("attempts", attempts),
				zap.Error(deliverErr))
			continue
		}
		res.Retried++
		d.log.Warn("outbox delivery failed",
			zap.String("id", msg.ID),
			zap.String("topic", msg.Topic),
			zap.Int("attempts", attempts),
			zap.Time("next_attempt_at", next),
			zap.Error(deliverErr))
	}
	return res, nil
}

// Run drains on every poll interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("outbox dispatcher started", zap.Duration("interval", d.cfg.PollInterval))
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		res, err := d.DrainOnce(ctx)
		if err != nil && ctx.Err() == nil {
			d.log.Error("outbox drain failed", zap.Error(err))
		}
		if res.Delivered+res.Retried+res.Dead > 0 {
			d.log.Debug("outbox drained",
				zap.Int("delivered", res.Delivered),
				zap.Int("retried", res.Retried),
				zap.Int("dead", res.Dead))
		}
		select {
		case <-ctx.Done():
			d.log.Info("outbox dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Describe renders a message for operator output.
func Describe(m Message) string {
	return fmt.Sprintf("%s %-28s key=%s attempts=%d status=%s", m.ID, m.Topic, m.Key, m.Attempts, m.Status)
}
