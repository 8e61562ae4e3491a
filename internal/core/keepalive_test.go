package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeepAliveTickSendsPingWhenFresh(t *testing.T) {
	t.Parallel()

	var gotNode *BinaryNode
	query := func(ctx context.Context, node *BinaryNode, timeoutMs *int) (*BinaryNode, error) {
		gotNode = node
		return NewNode("iq", nil), nil
	}
	var lostErr error
	k := NewKeepAlive(1000, query, func(err error) { lostErr = err })

	k.tick()

	require.Nil(t, lostErr)
	require.NotNil(t, gotNode)
	require.Equal(t, "iq", gotNode.Tag)
	require.Equal(t, "w:p", gotNode.Attrs["xmlns"])
	require.Equal(t, "get", gotNode.Attrs["type"])
	require.Equal(t, "s.whatsapp.net", gotNode.Attrs["to"])
	require.Equal(t, "ping", gotNode.GetChild("ping").Tag)
}

func TestKeepAliveTickReportsLostWhenStale(t *testing.T) {
	t.Parallel()

	queried := false
	query := func(ctx context.Context, node *BinaryNode, timeoutMs *int) (*BinaryNode, error) {
		queried = true
		return NewNode("iq", nil), nil
	}
	var lostErr error
	k := NewKeepAlive(10, query, func(err error) { lostErr = err })
	k.lastFrameReceived = time.Now().Add(-time.Duration(10+KeepAliveStalenessGraceMs+1) * time.Millisecond)

	k.tick()

	require.False(t, queried, "tick must not ping a stale connection")
	require.Error(t, lostErr)
	var dErr *DisconnectError
	require.ErrorAs(t, lostErr, &dErr)
	require.Equal(t, KindConnectionLost, dErr.Kind)
}

func TestKeepAliveTickReportsLostWhenQueryFails(t *testing.T) {
	t.Parallel()

	boom := ErrTimeout(nil)
	query := func(ctx context.Context, node *BinaryNode, timeoutMs *int) (*BinaryNode, error) {
		return nil, boom
	}
	var lostErr error
	k := NewKeepAlive(1000, query, func(err error) { lostErr = err })

	k.tick()

	require.Error(t, lostErr)
	var dErr *DisconnectError
	require.ErrorAs(t, lostErr, &dErr)
	require.Equal(t, KindConnectionLost, dErr.Kind)
}

func TestKeepAliveNoteFrameReceivedResetsStaleness(t *testing.T) {
	t.Parallel()

	queried := false
	query := func(ctx context.Context, node *BinaryNode, timeoutMs *int) (*BinaryNode, error) {
		queried = true
		return NewNode("iq", nil), nil
	}
	k := NewKeepAlive(10, query, func(error) {})
	k.lastFrameReceived = time.Now().Add(-time.Hour)

	k.NoteFrameReceived()
	k.tick()

	require.True(t, queried)
}

func TestKeepAliveStartStopDrivesTicksConcurrently(t *testing.T) {
	t.Parallel()

	var ticks int32
	query := func(ctx context.Context, node *BinaryNode, timeoutMs *int) (*BinaryNode, error) {
		atomic.AddInt32(&ticks, 1)
		return NewNode("iq", nil), nil
	}
	k := NewKeepAlive(5, query, func(error) {})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		k.Start()
	}()
	wg.Wait()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&ticks) >= 2 }, time.Second, 5*time.Millisecond)
	k.Stop()
	k.Stop() // must be safe to call twice
}
