package rbac

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/observability"
)

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

// fakeRoleService is an in-memory assignment service
type fakeRoleService struct {
	mu    sync.Mutex
	roles map[PrincipalID][]string

	listErr   error
	listDelay time.Duration
	addErr    error
	removeErr error
	refuse    bool

	// addGate, when set, blocks AddRole until it is closed
	addGate chan struct{}
	// addStarted receives once per AddRole call that reached the gate
	addStarted chan struct{}

	listCalls   int
	addCalls    int
	removeCalls int
}

func newFakeRoleService() *fakeRoleService {
	return &fakeRoleService{roles: make(map[PrincipalID][]string)}
}

func (f *fakeRoleService) set(principal PrincipalID, tokens ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[principal] = tokens
}

func (f *fakeRoleService) tokens(principal PrincipalID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.roles[principal]))
	copy(out, f.roles[principal])
	return out
}

func (f *fakeRoleService) counts() (list, add, remove int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.addCalls, f.removeCalls
}

func (f *fakeRoleService) ListRoles(ctx context.Context, principal PrincipalID) ([]string, error) {
	f.mu.Lock()
	f.listCalls++
	delay, err := f.listDelay, f.listErr
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return f.tokens(principal), nil
}

func (f *fakeRoleService) AddRole(ctx context.Context, principal PrincipalID, token string) error {
	f.mu.Lock()
	f.addCalls++
	gate, started, err := f.addGate, f.addStarted, f.addErr
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.roles[principal] {
		if existing == token {
			return nil
		}
	}
	f.roles[principal] = append(f.roles[principal], token)
	return nil
}

func (f *fakeRoleService) RemoveRole(ctx context.Context, principal PrincipalID, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls++
	if f.removeErr != nil {
		return false, f.removeErr
	}
	if f.refuse {
		return false, nil
	}
	kept := f.roles[principal][:0]
	for _, existing := range f.roles[principal] {
		if existing != token {
			kept = append(kept, existing)
		}
	}
	f.roles[principal] = kept
	return true, nil
}

// fakeProfiles records primary role writes
type fakeProfiles struct {
	mu      sync.Mutex
	primary map[PrincipalID]string
	err     error
	calls   int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{primary: make(map[PrincipalID]string)}
}

func (f *fakeProfiles) UpdatePrimaryRole(ctx context.Context, principal PrincipalID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.primary[principal] = token
	return nil
}

func (f *fakeProfiles) get(principal PrincipalID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.primary[principal]
}

// newTestSession returns a present session with an optional role hint
func newTestSession(hint string) *auth.Session {
	principal := &auth.Principal{
		ID:       uuid.New(),
		Email:    "ada@campus.test",
		Metadata: map[string]string{},
	}
	if hint != "" {
		principal.Metadata[auth.MetadataRoleKey] = hint
	}
	now := time.Now()
	return auth.NewSession(uuid.NewString(), principal, now, now.Add(time.Hour))
}

// sessionFor returns a present session for an existing principal
func sessionFor(id PrincipalID) *auth.Session {
	now := time.Now()
	return auth.NewSession(uuid.NewString(), &auth.Principal{ID: id}, now, now.Add(time.Hour))
}
