package settings

import (
	"log/slog"

	"github.com/vango-dev/apid/pkg/core"
)

// cachePrefix namespaces cached values in the daemon's SessionContext.
const cachePrefix = "settings/"

func cacheKey(name string) string { return cachePrefix + name }

// state is shared by every instance of the service.
type state struct {
	store  *Store
	events *core.Broadcaster
}

// Factory creates settings service instances over one store.
type Factory struct {
	shared *core.Shared[state]
	pool   *core.WorkerPool
	logger *slog.Logger
}

// NewFactory creates a factory serving store. Store work runs on pool,
// which the factory owns from then on.
func NewFactory(store *Store, pool *core.WorkerPool, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "settings")
	return &Factory{
		shared: core.NewShared(state{
			store:  store,
			events: core.NewBroadcaster(Events, logger),
		}),
		pool:   pool,
		logger: logger,
	}
}

// Create implements core.ServiceFactory.
func (f *Factory) Create(origin *core.OriginAttributes, sctx *core.SessionContext, support *core.SessionSupport) (core.Service, error) {
	s := &Service{
		origin:    origin,
		cache:     sctx,
		support:   support,
		shared:    f.shared,
		pool:      f.pool,
		observers: core.NewObjectTracker[*observer](),
		logger:    support.Logger(),
	}
	s.subs = core.NewSubscriptions(support, Events, f.broadcaster)
	s.logger.Debug("settings instance created", "identity", origin.Identity())
	return s, nil
}

// Listeners returns the number of event registrations across sessions.
func (f *Factory) Listeners() int {
	n, _ := core.Read(f.shared, func(st *state) int { return st.events.Len() })
	return n
}

// Close stops the worker pool after its queued tasks finish.
func (f *Factory) Close() {
	f.pool.Close()
}

func (f *Factory) broadcaster(fn func(b *core.Broadcaster) error) error {
	return f.shared.With(func(st *state) error { return fn(st.events) })
}
