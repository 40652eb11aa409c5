package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booklend/pkg/domain"
)

func snap(ids ...int64) Snapshot {
	out := make(Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Request{ID: id})
	}
	return out
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(snap(1, 2))
	require.NoError(t, err)

	got := <-sub.C()
	assert.Len(t, got, 2)
	assert.Equal(t, 1, hub.Len())
}

func TestPublishKeepsOnlyLatest(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(snap())
	require.NoError(t, err)

	hub.Publish(snap(1))
	hub.Publish(snap(1, 2))
	hub.Publish(snap(1, 2, 3))

	got := <-sub.C()
	assert.Len(t, got, 3, "slow reader must see the newest snapshot only")
	select {
	case extra := <-sub.C():
		t.Fatalf("unexpected extra snapshot %v", extra)
	default:
	}
}

func TestPublishFansOut(t *testing.T) {
	hub := NewHub()
	a, err := hub.Subscribe(snap())
	require.NoError(t, err)
	b, err := hub.Subscribe(snap())
	require.NoError(t, err)
	<-a.C()
	<-b.C()

	hub.Publish(snap(7))
	assert.Equal(t, int64(7), (<-a.C())[0].ID)
	assert.Equal(t, int64(7), (<-b.C())[0].ID)
}

func TestUnsubscribeAndClose(t *testing.T) {
	hub := NewHub()
	a, err := hub.Subscribe(snap())
	require.NoError(t, err)
	b, err := hub.Subscribe(snap())
	require.NoError(t, err)

	a.Unsubscribe()
	a.Unsubscribe()
	assert.Equal(t, 1, hub.Len())
	<-a.C()
	_, open := <-a.C()
	assert.False(t, open, "unsubscribed channel must be closed")

	hub.Publish(snap(1))
	hub.Close()
	hub.Close()
	<-b.C()
	_, open = <-b.C()
	assert.False(t, open, "close must end subscriptions")
	b.Unsubscribe()

	_, err = hub.Subscribe(snap())
	assert.ErrorIs(t, err, ErrClosed)
}
