package notification

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	mu    sync.Mutex
	kinds []string
}

func (r *countingRecorder) RecordNotification(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func TestStore_IDsStrictlyIncreaseFromOne(t *testing.T) {
	s := NewStore(0, nil)

	first := s.ShowError("a", 0)
	second := s.ShowSuccess("b", 0)
	s.Remove(second)
	third := s.ShowError("c", 0)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
	assert.Equal(t, 3, third, "ids are never reused")
}

func TestStore_DefaultDuration(t *testing.T) {
	s := NewStore(0, nil)
	s.ShowError("boom", 0)
	s.ShowSuccess("ok", 1500*time.Millisecond)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, int64(5000), list[0].DurationMs)
	assert.Equal(t, int64(1500), list[1].DurationMs)
	assert.Equal(t, KindError, list[0].Kind)
	assert.Equal(t, KindSuccess, list[1].Kind)
}

func TestStore_RemoveExactlyOneOrNone(t *testing.T) {
	s := NewStore(0, nil)
	s.ShowError("a", 0)
	id := s.ShowError("b", 0)
	s.ShowError("c", 0)

	assert.True(t, s.Remove(id))
	assert.False(t, s.Remove(id))
	assert.False(t, s.Remove(99))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Message)
	assert.Equal(t, "c", list[1].Message)
}

func TestStore_StripsMarkup(t *testing.T) {
	s := NewStore(0, nil)
	s.ShowError(`<script>alert(1)</script>Credits <b>exhausted</b>`, 0)

	assert.Equal(t, "Credits exhausted", s.List()[0].Message)
}

func TestStore_PruneExpired(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(0, nil)
	s.now = func() time.Time { return base }

	s.ShowError("short", time.Second)
	s.ShowError("long", 10*time.Second)

	assert.Equal(t, 0, s.PruneExpired(base.Add(500*time.Millisecond)))
	assert.Equal(t, 1, s.PruneExpired(base.Add(time.Second)))

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "long", list[0].Message)
}

func TestStore_ListIsCopy(t *testing.T) {
	s := NewStore(0, nil)
	s.ShowError("a", 0)

	list := s.List()
	list[0].Message = "changed"

	assert.Equal(t, "a", s.List()[0].Message)
}

func TestStore_RecordsKinds(t *testing.T) {
	rec := &countingRecorder{}
	s := NewStore(0, rec)
	s.ShowError("a", 0)
	s.ShowSuccess("b", 0)

	assert.Equal(t, []string{"error", "success"}, rec.kinds)
}

func TestStore_ConcurrentAddsHaveUniqueIDs(t *testing.T) {
	s := NewStore(0, nil)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ShowSuccess("x", 0)
		}()
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, n := range s.List() {
		assert.False(t, seen[n.ID])
		seen[n.ID] = true
	}
	assert.Len(t, seen, 50)
}
