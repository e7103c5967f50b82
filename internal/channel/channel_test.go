package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFIFO(t *testing.T) {
	f := NewFIFO[int](2)
	f.Send(1)
	assert.True(t, f.TrySend(2))
	assert.False(t, f.TrySend(3), "full queue refuses")
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, 2, f.Cap())

	assert.Equal(t, 1, <-f.Receive())
	f.Close()
	assert.Equal(t, 2, <-f.Receive())
	_, ok := <-f.Receive()
	assert.False(t, ok)
}

func TestFIFO_Rendezvous(t *testing.T) {
	f := NewFIFO[string](0)
	assert.False(t, f.TrySend("nobody listening"))

	go f.Send("x")
	select {
	case v := <-f.Receive():
		assert.Equal(t, "x", v)
	case <-time.After(time.Second):
		t.Fatal("no value received")
	}
	assert.Equal(t, 0, f.Len())
}

func TestFIFO_SendTimeout(t *testing.T) {
	f := NewFIFO[int](1)
	assert.True(t, f.SendTimeout(1, time.Millisecond))

	start := time.Now()
	assert.False(t, f.SendTimeout(2, 20*time.Millisecond), "nobody drains the queue")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		<-f.Receive()
	}()
	assert.True(t, f.SendTimeout(3, time.Second))
	assert.Equal(t, 3, <-f.Receive())
}

func TestNew(t *testing.T) {
	c := New[int](4)
	go c.Send(7)
	assert.Equal(t, 7, <-c.Receive())
	c.Close()
}

func TestMailbox_LatestWins(t *testing.T) {
	m := NewMailbox[int]()

	_, ok := m.TryTake()
	assert.False(t, ok)

	m.Put(1)
	m.Put(2)
	assert.Equal(t, 1, m.Len())

	select {
	case <-m.Ready():
	default:
		t.Fatal("ready not signalled")
	}

	v, ok := m.TryTake()
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 0, m.Len())

	_, ok = m.TryTake()
	assert.False(t, ok)
}

func TestMailbox_Clear(t *testing.T) {
	m := NewMailbox[string]()
	m.Put("stale")
	m.Clear()
	_, ok := m.TryTake()
	assert.False(t, ok)
}
