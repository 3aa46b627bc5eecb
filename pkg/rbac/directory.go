package rbac

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/cache"
	"github.com/platinummonkey/campus/pkg/observability"
)

// Directory is the single source of role state per session. It resolves each
// session once, keeps the state in a cache, hands out the session's Store for
// mutations and fans committed states out to subscribers. Entries are dropped
// on sign-out.
type Directory struct {
	resolver *Resolver
	profiles ProfileStore
	service  RoleMutator
	states   *cache.Tiered[State]
	peers    *cache.Broadcaster
	stores   *expirable.LRU[string, *Store]
	group    singleflight.Group

	mu          sync.Mutex
	nextID      uint64
	subscribers map[string]map[uint64]func(State)

	storeOpts []StoreOption
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// DirectoryConfig configures a Directory
type DirectoryConfig struct {
	// States caches resolved states by session. Nil disables caching beyond
	// the live stores.
	States *cache.Tiered[State]
	// MaxSessions bounds the number of live stores
	MaxSessions int
	// SessionTTL evicts stores of idle sessions
	SessionTTL time.Duration
	// Broadcaster announces committed states to other replicas. Nil keeps
	// the directory to this process.
	Broadcaster *cache.Broadcaster
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// NewDirectory creates a directory over the resolver and the role stores
func NewDirectory(resolver *Resolver, profiles ProfileStore, service RoleMutator, config DirectoryConfig) *Directory {
	if config.MaxSessions <= 0 {
		config.MaxSessions = 10000
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = 15 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if config.States == nil {
		config.States = cache.NewTiered[State](nil)
	}

	return &Directory{
		resolver:    resolver,
		profiles:    profiles,
		service:     service,
		states:      config.States,
		peers:       config.Broadcaster,
		stores:      expirable.NewLRU[string, *Store](config.MaxSessions, nil, config.SessionTTL),
		subscribers: make(map[string]map[uint64]func(State)),
		storeOpts:   []StoreOption{WithStoreLogger(config.Logger), WithStoreMetrics(config.Metrics)},
		logger:      config.Logger,
		metrics:     config.Metrics,
	}
}

// sessionKey identifies a session and its principal, so a new identity never
// sees state cached for the previous one
func sessionKey(session *auth.Session) string {
	id := session.ID
	if id == "" {
		id = "principal"
	}
	return id + ":" + session.Principal.ID.String()
}

// State returns the role state for session. Signed-out sessions get the
// default state.
func (d *Directory) State(ctx context.Context, session *auth.Session) State {
	store, err := d.Store(ctx, session)
	if err != nil {
		return DefaultState()
	}
	return store.State()
}

// Resolution returns the settled resolution for session, for the guard
func (d *Directory) Resolution(ctx context.Context, session *auth.Session) Resolution {
	if !session.Authenticated() {
		return Resolution{}
	}
	return ResolvedFor(session.PrincipalID(), d.State(ctx, session))
}

// Store returns the mutation store for session, resolving its state on first
// use. Concurrent first uses of one session share a single resolution.
func (d *Directory) Store(ctx context.Context, session *auth.Session) (*Store, error) {
	if !session.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	key := sessionKey(session)
	if store, ok := d.stores.Get(key); ok {
		return store, nil
	}

	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		// shared by every waiter, so one caller's cancellation must not
		// degrade the state cached for all of them
		ctx := context.WithoutCancel(ctx)

		if store, ok := d.stores.Get(key); ok {
			return store, nil
		}

		state, err := d.states.Get(ctx, key)
		if err != nil || state.Validate() != nil {
			state = d.resolver.Resolve(ctx, session)
			if err := d.states.Set(ctx, key, state); err != nil {
				d.logger.WithError(err).Warn("Failed to cache role state")
			}
		}

		store := NewStore(session.PrincipalID(), state, d.profiles, d.service, d.storeOpts...)
		store.Subscribe(func(next State) { d.committed(key, store, next) })
		d.stores.Add(key, store)
		d.metrics.SetActiveSessions(d.stores.Len())
		return store, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

// committed writes a committed state through to the cache and the
// subscribers, unless the store has been detached from the directory
func (d *Directory) committed(key string, store *Store, state State) {
	if current, ok := d.stores.Peek(key); !ok || current != store {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.states.Set(ctx, key, state); err != nil {
		d.logger.WithError(err).Warn("Failed to cache role state")
	}
	d.announce(ctx, key)

	notify(d.subscribersOf(key), state)
}

// Subscribe registers fn for every state committed for session. The returned
// function removes it.
func (d *Directory) Subscribe(session *auth.Session, fn func(State)) (func(), error) {
	if !session.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	key := sessionKey(session)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	if d.subscribers[key] == nil {
		d.subscribers[key] = make(map[uint64]func(State))
	}
	d.subscribers[key][id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subscribers[key], id)
		if len(d.subscribers[key]) == 0 {
			delete(d.subscribers, key)
		}
	}, nil
}

// Invalidate drops everything held for session. A mutation still in flight
// for it completes remotely but its result is discarded.
func (d *Directory) Invalidate(ctx context.Context, session *auth.Session) error {
	if !session.Authenticated() {
		return nil
	}
	key := sessionKey(session)

	if store, ok := d.stores.Peek(key); ok {
		d.stores.Remove(key)
		store.Reset(DefaultState())
	}
	d.metrics.SetActiveSessions(d.stores.Len())

	d.mu.Lock()
	delete(d.subscribers, key)
	d.mu.Unlock()

	if err := d.states.Delete(ctx, key); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return err
	}
	d.announce(ctx, key)
	return nil
}

func (d *Directory) announce(ctx context.Context, key string) {
	if d.peers == nil {
		return
	}
	if err := d.peers.Publish(ctx, key); err != nil {
		d.logger.WithError(err).Warn("Failed to announce role state change")
	}
}

// Listen applies the changes other replicas announce, in the background,
// until ctx is cancelled or stop is called. Without a broadcaster it does
// nothing.
func (d *Directory) Listen(ctx context.Context) (stop func() error, err error) {
	if d.peers == nil {
		return func() error { return nil }, nil
	}
	sub, err := d.peers.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := sub.Run(ctx, d.dropLocal); err != nil {
			d.logger.WithError(err).Warn("Stopped applying role state announcements")
		}
	}()
	return sub.Close, nil
}

// dropLocal forgets what this replica holds for key after another replica
// changed it. Subscribers stay registered and receive the shared state.
func (d *Directory) dropLocal(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// the private copy goes first so a store rebuilt concurrently reads the
	// shared tier
	if err := d.states.DeleteLocal(ctx, key); err != nil {
		d.logger.WithError(err).Warn("Failed to drop local role state")
	}
	if store, ok := d.stores.Peek(key); ok {
		d.stores.Remove(key)
		store.Reset(DefaultState())
	}
	d.metrics.SetActiveSessions(d.stores.Len())

	subs := d.subscribersOf(key)
	if len(subs) == 0 {
		return
	}

	state, err := d.states.Get(ctx, key)
	if err != nil || state.Validate() != nil {
		return
	}
	notify(subs, state)
}

// Refresh discards the cached state of session and resolves it again.
// Subscribers stay registered and receive the new state, and other replicas
// drop their copies.
func (d *Directory) Refresh(ctx context.Context, session *auth.Session) (State, error) {
	if !session.Authenticated() {
		return DefaultState(), ErrNotAuthenticated
	}
	key := sessionKey(session)

	if store, ok := d.stores.Peek(key); ok {
		d.stores.Remove(key)
		store.Reset(DefaultState())
	}
	if err := d.states.Delete(ctx, key); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		d.logger.WithError(err).Warn("Failed to drop cached role state")
	}

	store, err := d.Store(ctx, session)
	if err != nil {
		return DefaultState(), err
	}
	state := store.State()
	d.announce(ctx, key)
	notify(d.subscribersOf(key), state)
	return state, nil
}

func (d *Directory) subscribersOf(key string) []func(State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := make([]func(State), 0, len(d.subscribers[key]))
	for _, fn := range d.subscribers[key] {
		subs = append(subs, fn)
	}
	return subs
}

// HandleEvent reacts to session lifecycle events
func (d *Directory) HandleEvent(event auth.Event) {
	if event.Type != auth.EventSignedOut {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Invalidate(ctx, event.Session); err != nil {
		d.logger.WithError(err).Warn("Failed to drop role state on sign-out")
	}
}

// Attach subscribes the directory to a session provider
func (d *Directory) Attach(provider SessionProvider) func() {
	return provider.Subscribe(d.HandleEvent)
}

// Sessions returns the number of live stores
func (d *Directory) Sessions() int {
	return d.stores.Len()
}
