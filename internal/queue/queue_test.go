package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arena/pkg/core"
)

func death(turn int) core.DeathRecord {
	return core.DeathRecord{BattleID: "b", Turn: turn}
}

func TestQueue_PushPop(t *testing.T) {
	q := New[core.DeathRecord](0)

	_, ok := q.Pop()
	assert.False(t, ok)

	q.Push(death(1), death(2))
	q.Push(death(3))
	assert.Equal(t, 3, q.Len())

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, got.Turn)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_Drain(t *testing.T) {
	q := New[core.DeathRecord](0)
	for i := 1; i <= 5; i++ {
		q.Push(death(i))
	}

	first := q.Drain(2)
	require.Len(t, first, 2)
	assert.Equal(t, 1, first[0].Turn)
	assert.Equal(t, 2, first[1].Turn)

	rest := q.Drain(0)
	require.Len(t, rest, 3)
	assert.Equal(t, 5, rest[2].Turn)
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Drain(10))
}

func TestQueue_LimitDropsOldest(t *testing.T) {
	q := New[core.DeathRecord](3)
	for i := 1; i <= 5; i++ {
		q.Push(death(i))
	}

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 2, q.Dropped())
	items := q.Drain(0)
	assert.Equal(t, 3, items[0].Turn)
	assert.Equal(t, 5, items[2].Turn)
}

func TestQueue_Concurrent(t *testing.T) {
	q := New[core.DeathRecord](0)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(death(g*100 + i))
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for q.Len() > 0 {
		total += len(q.Drain(64))
	}
	assert.Equal(t, 800, total)
}
