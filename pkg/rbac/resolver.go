package rbac

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/observability"
)

// DefaultLookupTimeout bounds the authoritative role lookup
const DefaultLookupTimeout = 5 * time.Second

// Resolver computes the role state of a principal. It tries the authoritative
// role service, then the session's role hint, then the default role. It never
// fails.
type Resolver struct {
	roles   RoleLister
	timeout time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithLookupTimeout bounds the authoritative lookup. Zero or negative disables the bound.
func WithLookupTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.timeout = d }
}

// WithResolverLogger sets the logger
func WithResolverLogger(logger *observability.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithResolverMetrics sets the metrics sink
func WithResolverMetrics(metrics *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = metrics }
}

// NewResolver creates a resolver over the role service. roles may be nil, in
// which case resolution starts at the session hint.
func NewResolver(roles RoleLister, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		roles:   roles,
		timeout: DefaultLookupTimeout,
		tracer:  observability.Tracer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return r
}

// Resolve returns a valid state for the session's principal. Stages run in
// order and each failure falls through to the next one.
func (r *Resolver) Resolve(ctx context.Context, session *auth.Session) State {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "rbac.Resolve")
	defer span.End()

	state := r.resolve(ctx, session, span)

	span.SetAttributes(
		attribute.String("rbac.source", string(state.Source)),
		attribute.String("rbac.primary_role", ToStorage(state.Primary)),
	)
	r.metrics.RecordResolution(string(state.Source), time.Since(start))
	return state
}

func (r *Resolver) resolve(ctx context.Context, session *auth.Session, span trace.Span) State {
	if !session.Authenticated() {
		return DefaultState()
	}

	log := r.logger.WithField("principal_id", session.Principal.ID.String())

	if state, ok := r.fromService(ctx, session.Principal.ID, log, span); ok {
		return state
	}

	if hint, ok := session.Principal.RoleHint(); ok {
		return SingleRoleState(ToDisplay(hint), SourceMetadata)
	}

	return DefaultState()
}

func (r *Resolver) fromService(ctx context.Context, principal PrincipalID, log *observability.Logger, span trace.Span) (State, bool) {
	if r.roles == nil {
		return State{}, false
	}

	lookupCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tokens, err := r.roles.ListRoles(lookupCtx, principal)
	if err != nil {
		reason := "error"
		if lookupCtx.Err() == context.DeadlineExceeded {
			reason = "timeout"
		}
		r.metrics.RecordLookupError(reason)
		span.RecordError(err)
		span.SetStatus(codes.Error, "authoritative lookup failed")
		log.WithError(err).WithField("reason", reason).Warn("Role lookup failed, falling back to session metadata")
		return State{}, false
	}
	if len(tokens) == 0 {
		return State{}, false
	}

	return stateFromTokens(tokens, log), true
}

// stateFromTokens maps service tokens to a state. The first token is the
// primary role. Duplicates collapse and roles outside the primary's cluster
// are dropped.
func stateFromTokens(tokens []string, log *observability.Logger) State {
	primary := ToDisplay(tokens[0])
	cluster := ClusterOf(primary)

	roles := NewRoleSet(primary)
	var dropped []string
	for _, token := range tokens[1:] {
		role := ToDisplay(token)
		if ClusterOf(role) != cluster {
			dropped = append(dropped, token)
			continue
		}
		roles = roles.With(role)
	}

	if len(dropped) > 0 && log != nil {
		log.WithFields(map[string]interface{}{
			"primary_role": tokens[0],
			"dropped":      dropped,
		}).Warn("Role assignments straddle clusters, keeping the primary role's cluster")
	}

	return State{Primary: primary, Roles: roles, Source: SourceAuthoritative}
}
