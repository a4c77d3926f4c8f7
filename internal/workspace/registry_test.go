package workspace

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/vulnerametrics/internal/notification"
)

type sizeRecorder struct {
	mu   sync.Mutex
	last int
}

func (s *sizeRecorder) SetActiveWorkspaces(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = n
}

func testFactory(created *int) Factory {
	return func(sessionID string) *Workspace {
		*created++
		return &Workspace{ID: sessionID, Notifications: notification.NewStore(0, nil)}
	}
}

func TestRegistry_GetCreatesOncePerSession(t *testing.T) {
	created := 0
	rec := &sizeRecorder{}
	r := NewRegistry(testFactory(&created), RegistryConfig{IdleTTL: time.Minute}, rec)
	defer r.Stop()

	a1 := r.Get("a")
	a2 := r.Get("a")
	b := r.Get("b")

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2, rec.last)
}

func TestRegistry_LookupDoesNotCreate(t *testing.T) {
	created := 0
	r := NewRegistry(testFactory(&created), RegistryConfig{IdleTTL: time.Minute}, nil)
	defer r.Stop()

	_, ok := r.Lookup("a")
	assert.False(t, ok)
	assert.Zero(t, created)

	r.Get("a")
	ws, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "a", ws.ID)
}

func TestRegistry_Drop(t *testing.T) {
	created := 0
	r := NewRegistry(testFactory(&created), RegistryConfig{IdleTTL: time.Minute}, nil)
	defer r.Stop()

	first := r.Get("a")
	r.Drop("a")
	second := r.Get("a")

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, created)
}

func TestRegistry_SweepEvictsIdle(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	created := 0
	r := NewRegistry(testFactory(&created), RegistryConfig{IdleTTL: 10 * time.Minute}, nil)
	r.now = func() time.Time { return now }
	defer r.Stop()

	r.Get("idle")
	now = base.Add(8 * time.Minute)
	r.Get("active")

	evicted := r.sweep(base.Add(11 * time.Minute))

	assert.Equal(t, 1, evicted)
	_, ok := r.Lookup("idle")
	assert.False(t, ok)
	_, ok = r.Lookup("active")
	assert.True(t, ok)
}

func TestRegistry_SweepPrunesExpiredNotifications(t *testing.T) {
	created := 0
	r := NewRegistry(testFactory(&created), RegistryConfig{IdleTTL: time.Hour}, nil)
	defer r.Stop()

	ws := r.Get("a")
	ws.Notifications.ShowError("old", time.Millisecond)

	r.sweep(time.Now().Add(time.Second))

	assert.Empty(t, ws.Notifications.List())
}

func TestRegistry_StopIsIdempotent(t *testing.T) {
	created := 0
	r := NewRegistry(testFactory(&created), RegistryConfig{IdleTTL: time.Minute, SweepInterval: time.Millisecond}, nil)

	r.Stop()
	r.Stop()
}
