package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/campus/pkg/observability"
)

// Store mutates the role state of one principal. Every mutation is checked
// against the cluster rule before anything is written, and the local state only
// changes after the remote writes succeed.
//
// A Store admits one mutation at a time: a second call while one is pending
// fails with ErrMutationInFlight. Reset replaces the state when the session
// changes; a mutation that was pending across a Reset is discarded.
type Store struct {
	mu         sync.Mutex
	principal  PrincipalID
	state      State
	generation uint64
	inFlight   bool

	profiles ProfileStore
	service  RoleMutator

	nextID    uint64
	listeners map[uint64]func(State)

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for audit lines
func WithStoreLogger(logger *observability.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// WithStoreMetrics sets the metrics sink
func WithStoreMetrics(metrics *observability.Metrics) StoreOption {
	return func(s *Store) { s.metrics = metrics }
}

// NewStore creates a store for principal seeded with a resolved state
func NewStore(principal PrincipalID, initial State, profiles ProfileStore, service RoleMutator, opts ...StoreOption) *Store {
	s := &Store{
		principal: principal,
		state:     initial,
		profiles:  profiles,
		service:   service,
		listeners: make(map[uint64]func(State)),
		tracer:    observability.Tracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return s
}

// Principal returns the principal the store mutates
func (s *Store) Principal() PrincipalID {
	return s.principal
}

// State returns the current state
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending reports whether a mutation is in flight
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Subscribe registers fn to receive every committed state. The returned
// function removes it.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Reset replaces the state wholesale, for a fresh resolution after the session
// changed. Results of mutations still in flight are discarded.
func (s *Store) Reset(state State) {
	s.mu.Lock()
	s.generation++
	s.inFlight = false
	s.state = state
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	notify(listeners, state)
}

// SetPrimaryRole makes role the principal's primary role. The role set is reset
// to {role}: roles from the previous state are dropped, including those of the
// other cluster.
func (s *Store) SetPrimaryRole(ctx context.Context, role Role) (State, error) {
	if !role.Valid() {
		return s.State(), &MutationError{Op: OpSetPrimary, Role: role, Err: ErrUnknownRole}
	}

	ctx, span := s.startSpan(ctx, OpSetPrimary, role)
	defer span.End()

	previous, gen, err := s.begin(OpSetPrimary, role)
	if err != nil {
		return s.fail(span, OpSetPrimary, role, err)
	}

	token := ToStorage(role)
	if err := s.profiles.UpdatePrimaryRole(ctx, s.principal, token); err != nil {
		s.abort(gen)
		return s.fail(span, OpSetPrimary, role, fmt.Errorf("%w: profile: %w", ErrRemoteWrite, err))
	}
	if err := s.service.AddRole(ctx, s.principal, token); err != nil {
		s.abort(gen)
		return s.fail(span, OpSetPrimary, role, fmt.Errorf("%w: assignment: %w", ErrRemoteWrite, err))
	}

	// Dropped roles are pruned from the assignment store so the next
	// resolution agrees with the reset. A failure leaves a stale row that
	// resolution filters by cluster; it does not fail the mutation.
	for _, old := range previous.Roles.Slice() {
		if old == role {
			continue
		}
		if _, err := s.service.RemoveRole(ctx, s.principal, ToStorage(old)); err != nil {
			s.logger.WithError(err).WithField("role", ToStorage(old)).Warn("Failed to prune dropped role assignment")
		}
	}

	return s.commit(ctx, span, gen, OpSetPrimary, role, SingleRoleState(role, SourceMutation))
}

// AddSecondaryRole adds role to the role set. Roles of the other cluster are
// rejected with ErrIncompatibleRole before any write. Adding a held role
// succeeds without change.
func (s *Store) AddSecondaryRole(ctx context.Context, role Role) (State, error) {
	if !role.Valid() {
		return s.State(), &MutationError{Op: OpAddSecondary, Role: role, Err: ErrUnknownRole}
	}

	current := s.State()
	if !IsCompatible(current.Roles, role) {
		s.metrics.RecordMutation(string(OpAddSecondary), "rejected")
		return current, &MutationError{Op: OpAddSecondary, Role: role, Err: ErrIncompatibleRole}
	}
	if current.Has(role) {
		s.metrics.RecordMutation(string(OpAddSecondary), "noop")
		return current, nil
	}

	ctx, span := s.startSpan(ctx, OpAddSecondary, role)
	defer span.End()

	previous, gen, err := s.begin(OpAddSecondary, role)
	if err != nil {
		return s.fail(span, OpAddSecondary, role, err)
	}
	// the state may have moved between the check above and begin
	if !IsCompatible(previous.Roles, role) {
		s.abort(gen)
		return s.fail(span, OpAddSecondary, role, ErrIncompatibleRole)
	}

	if err := s.anchorPrimary(ctx, previous); err != nil {
		s.abort(gen)
		return s.fail(span, OpAddSecondary, role, fmt.Errorf("%w: primary: %w", ErrRemoteWrite, err))
	}
	if err := s.service.AddRole(ctx, s.principal, ToStorage(role)); err != nil {
		s.abort(gen)
		return s.fail(span, OpAddSecondary, role, fmt.Errorf("%w: %w", ErrRemoteWrite, err))
	}

	next := State{Primary: previous.Primary, Roles: previous.Roles.With(role), Source: SourceMutation}
	return s.commit(ctx, span, gen, OpAddSecondary, role, next)
}

// anchorPrimary persists the primary of a state that was not read from the
// assignment store, so the next resolution elects the same primary once a
// secondary row exists. Both writes are idempotent.
func (s *Store) anchorPrimary(ctx context.Context, state State) error {
	if state.Source != SourceMetadata && state.Source != SourceDefault {
		return nil
	}
	token := ToStorage(state.Primary)
	if err := s.profiles.UpdatePrimaryRole(ctx, s.principal, token); err != nil {
		return err
	}
	return s.service.AddRole(ctx, s.principal, token)
}

// RemoveSecondaryRole removes role from the role set. The primary role is
// protected and is only changed through SetPrimaryRole. Removing a role that
// is not held succeeds without change.
func (s *Store) RemoveSecondaryRole(ctx context.Context, role Role) (State, error) {
	if !role.Valid() {
		return s.State(), &MutationError{Op: OpRemoveSecondary, Role: role, Err: ErrUnknownRole}
	}

	current := s.State()
	if role == current.Primary {
		s.metrics.RecordMutation(string(OpRemoveSecondary), "rejected")
		return current, &MutationError{Op: OpRemoveSecondary, Role: role, Err: ErrPrimaryRoleProtected}
	}
	if !current.Has(role) {
		s.metrics.RecordMutation(string(OpRemoveSecondary), "noop")
		return current, nil
	}

	ctx, span := s.startSpan(ctx, OpRemoveSecondary, role)
	defer span.End()

	previous, gen, err := s.begin(OpRemoveSecondary, role)
	if err != nil {
		return s.fail(span, OpRemoveSecondary, role, err)
	}
	if role == previous.Primary {
		s.abort(gen)
		return s.fail(span, OpRemoveSecondary, role, ErrPrimaryRoleProtected)
	}

	removed, err := s.service.RemoveRole(ctx, s.principal, ToStorage(role))
	if err != nil {
		s.abort(gen)
		return s.fail(span, OpRemoveSecondary, role, fmt.Errorf("%w: %w", ErrRemoteWrite, err))
	}
	if !removed {
		s.abort(gen)
		return s.fail(span, OpRemoveSecondary, role, ErrRemovalRefused)
	}

	next := State{Primary: previous.Primary, Roles: previous.Roles.Without(role), Source: SourceMutation}
	return s.commit(ctx, span, gen, OpRemoveSecondary, role, next)
}

// begin claims the mutation slot and returns the state it starts from
func (s *Store) begin(op Op, role Role) (State, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return s.state, 0, ErrMutationInFlight
	}
	s.inFlight = true
	return s.state, s.generation, nil
}

// abort releases the slot if it still belongs to generation gen
func (s *Store) abort(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == gen {
		s.inFlight = false
	}
}

// commit publishes next unless the session was reset while the writes ran
func (s *Store) commit(ctx context.Context, span trace.Span, gen uint64, op Op, role Role, next State) (State, error) {
	if err := next.Validate(); err != nil {
		s.abort(gen)
		return s.fail(span, op, role, err)
	}

	s.mu.Lock()
	if s.generation != gen {
		current := s.state
		s.mu.Unlock()
		s.metrics.RecordMutation(string(op), "discarded")
		s.logger.WithField("op", string(op)).Info("Discarding role mutation result after session change")
		return current, &MutationError{Op: op, Role: role, Err: ErrSessionChanged}
	}
	s.state = next
	s.inFlight = false
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	s.metrics.RecordMutation(string(op), "success")
	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"principal_id": s.principal.String(),
		"op":           string(op),
		"role":         ToStorage(role),
		"primary_role": ToStorage(next.Primary),
		"roles":        next.Roles.Tokens(),
	}).Info("Role mutation committed")

	notify(listeners, next)
	return next, nil
}

func (s *Store) fail(span trace.Span, op Op, role Role, err error) (State, error) {
	result := "error"
	switch {
	case IsInvariantViolation(err), errors.Is(err, ErrRemovalRefused):
		result = "rejected"
	case errors.Is(err, ErrMutationInFlight):
		result = "in_flight"
	}
	s.metrics.RecordMutation(string(op), result)
	span.RecordError(err)
	span.SetStatus(codes.Error, result)

	if errors.Is(err, ErrRemoteWrite) {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"principal_id": s.principal.String(),
			"op":           string(op),
			"role":         ToStorage(role),
		}).Error("Role mutation failed")
	}

	return s.State(), &MutationError{Op: op, Role: role, Err: err}
}

func (s *Store) startSpan(ctx context.Context, op Op, role Role) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "rbac.Store."+string(op), trace.WithAttributes(
		attribute.String("rbac.principal_id", s.principal.String()),
		attribute.String("rbac.role", ToStorage(role)),
	))
}

// snapshotListeners must be called with s.mu held
func (s *Store) snapshotListeners() []func(State) {
	listeners := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	return listeners
}

func notify(listeners []func(State), state State) {
	for _, fn := range listeners {
		fn(state)
	}
}
