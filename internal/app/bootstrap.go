package app

import (
	"context"
	"fmt"
	"time"

	"production-ledger/internal/config"
	"production-ledger/internal/core"
	"production-ledger/internal/db"
	"production-ledger/internal/notify"
	"production-ledger/internal/outbox"
	"production-ledger/internal/store/memory"
	"production-ledger/internal/store/postgres"

	"go.uber.org/zap"
)

// StoreSet is one repository per aggregate, from either backend.
type StoreSet struct {
	Stock      core.StockStore
	Boms       core.BomStore
	WorkOrders core.WorkOrderStore
	Reorder    core.ReorderStore
	Sequences  core.SequenceStore
}

// MemoryStoreSet returns a fresh non-durable StoreSet.
func MemoryStoreSet() StoreSet {
	s := memory.NewStores()
	return StoreSet{Stock: s.Stock, Boms: s.Boms, WorkOrders: s.WorkOrders, Reorder: s.Reorder, Sequences: s.Sequences}
}

type WireOptions struct {
	Logger          *zap.Logger
	Now             func() time.Time
	ReorderInterval time.Duration
	Dispatcher      outbox.DispatcherConfig
}

// Wire builds the engines over stores. Collaborator calls and reorder alerts
// are enqueued on ob and delivered to sink by the returned dispatcher.
func Wire(stores StoreSet, ob outbox.Store, sink outbox.Sink, opts WireOptions) Engines {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	coreOpts := []core.Option{core.WithLogger(opts.Logger), core.WithClock(opts.Now)}

	collab := notify.NewOutboxCollaborators(ob, opts.Now)
	ledger := core.NewStockLedger(stores.Stock, coreOpts...)
	boms := core.NewBomEngine(stores.Boms, coreOpts...)
	numbers := core.NewSequenceService(stores.Sequences)

	dcfg := opts.Dispatcher
	dcfg.Logger = opts.Logger.Named("outbox")
	dcfg.Now = opts.Now

	return Engines{
		Ledger:     ledger,
		Valuation:  core.NewValuationEngine(stores.Stock, coreOpts...),
		Boms:       boms,
		WorkOrders: core.NewWorkOrderEngine(stores.WorkOrders, ledger, boms, numbers, collab.Collaborators(), coreOpts...),
		Monitor:    core.NewReorderMonitor(stores.Reorder, ledger, collab, opts.ReorderInterval, coreOpts...),
		Outbox:     ob,
		Dispatcher: outbox.NewDispatcher(ob, sink, dcfg),
	}
}

// Runtime is a fully wired process. Close releases the pool, the outbox
// database and the Redis client, whichever were opened.
type Runtime struct {
	Service    ApplicationService
	Monitor    *core.ReorderMonitor
	Dispatcher *outbox.Dispatcher
	closers    []func() error
}

func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
}

// Bootstrap opens the backends named by cfg and wires the engines over them.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		rt.Close()
		return nil, err
	}

	var stores StoreSet
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fail(err)
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		s := postgres.NewStores(pool)
		stores = StoreSet{Stock: s.Stock, Boms: s.Boms, WorkOrders: s.WorkOrders, Reorder: s.Reorder, Sequences: s.Sequences}
	case config.StoreDriverMemory:
		logger.Warn("using in-memory stores; state is lost on exit")
		stores = MemoryStoreSet()
	default:
		return fail(fmt.Errorf("unknown store driver %q", cfg.Store.Driver))
	}

	var ob outbox.Store
	switch cfg.Outbox.Driver {
	case config.OutboxDriverSQLite:
		s, err := outbox.OpenSQLite(cfg.Outbox.SQLitePath)
		if err != nil {
			return fail(err)
		}
		rt.closers = append(rt.closers, s.Close)
		ob = s
	case config.OutboxDriverMemory:
		ob = outbox.NewMemoryStore()
	default:
		return fail(fmt.Errorf("unknown outbox driver %q", cfg.Outbox.Driver))
	}

	var sink outbox.Sink
	if cfg.Redis.Addr != "" {
		client := notify.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
		rt.closers = append(rt.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable; deliveries will be retried", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		sink = notify.NewRedisStreamSink(client, cfg.Redis.StreamPrefix, cfg.Redis.StreamMaxLen)
	} else {
		sink = notify.NewLogSink(logger.Named("sink"))
	}

	engines := Wire(stores, ob, sink, WireOptions{
		Logger:          logger,
		ReorderInterval: cfg.Reorder.Interval,
		Dispatcher: outbox.DispatcherConfig{
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    cfg.Outbox.BatchSize,
			MaxAttempts:  cfg.Outbox.MaxAttempts,
			MaxBackoff:   cfg.Outbox.MaxBackoff,
		},
	})

	rt.Service = NewAppService(engines, nil)
	rt.Monitor = engines.Monitor
	rt.Dispatcher = engines.Dispatcher
	return rt, nil
}
