package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSession_Status(t *testing.T) {
	var nilSession *Session
	assert.False(t, nilSession.Authenticated())
	assert.False(t, nilSession.Settled())

	assert.True(t, AbsentSession().Settled())
	assert.False(t, AbsentSession().Authenticated())
	assert.False(t, LoadingSession().Settled())

	s := NewSession("s1", &Principal{ID: uuid.New()}, time.Now(), time.Now().Add(time.Hour))
	assert.True(t, s.Settled())
	assert.True(t, s.Authenticated())
	assert.Equal(t, "present", s.Status.String())
}

func TestSession_PrincipalID(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, uuid.Nil, AbsentSession().PrincipalID())
	assert.Equal(t, id, NewSession("s", &Principal{ID: id}, time.Time{}, time.Time{}).PrincipalID())
}

func TestSession_SameIdentity(t *testing.T) {
	alice := &Principal{ID: uuid.New()}
	bob := &Principal{ID: uuid.New()}

	a1 := NewSession("s1", alice, time.Time{}, time.Time{})
	tests := []struct {
		name  string
		other *Session
		want  bool
	}{
		{"same session", NewSession("s1", alice, time.Time{}, time.Time{}), true},
		{"new session for same principal", NewSession("s2", alice, time.Time{}, time.Time{}), false},
		{"other principal", NewSession("s1", bob, time.Time{}, time.Time{}), false},
		{"signed out", AbsentSession(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a1.SameIdentity(tt.other))
		})
	}

	assert.True(t, AbsentSession().SameIdentity(AbsentSession()))
}

func TestPrincipal_RoleHint(t *testing.T) {
	var nilPrincipal *Principal
	_, ok := nilPrincipal.RoleHint()
	assert.False(t, ok)

	_, ok = (&Principal{Metadata: map[string]string{"role": "  "}}).RoleHint()
	assert.False(t, ok)

	hint, ok := (&Principal{Metadata: map[string]string{"role": " teacher "}}).RoleHint()
	assert.True(t, ok)
	assert.Equal(t, "teacher", hint)
}

func TestBroker_PublishOrderAndUnsubscribe(t *testing.T) {
	b := NewBroker()
	var got []string

	unsubA := b.Subscribe(func(e Event) { got = append(got, "a:"+string(e.Type)) })
	b.Subscribe(func(e Event) { got = append(got, "b:"+string(e.Type)) })

	session := NewSession("s1", &Principal{ID: uuid.New()}, time.Now(), time.Now().Add(time.Hour))
	b.SignedIn(session)
	unsubA()
	b.SignedOut(session)

	assert.Equal(t, []string{"a:signed_in", "b:signed_in", "b:signed_out"}, got)
}

func TestBroker_StampsEventTime(t *testing.T) {
	b := NewBroker()
	var event Event
	b.Subscribe(func(e Event) { event = e })

	b.SignedOut(AbsentSession())
	assert.False(t, event.OccurredAt.IsZero())
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	assert.Equal(t, "abc.def.ghi", TokenFromRequest(r))

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Equal(t, "", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie.token"})
	assert.Equal(t, "cookie.token", TokenFromRequest(r))
}
