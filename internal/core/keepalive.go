// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"context"
	"sync"
	"time"
)

// KeepAliveStalenessGraceMs is the grace period added to the interval
// before a missed ping is treated as connection loss, spec.md §4.8.
const KeepAliveStalenessGraceMs = 5000

// KeepAlive drives the periodic ping described in spec.md §4.8: every
// interval it checks whether a frame has arrived recently, and if not
// reports the connection as lost instead of sending another ping into a
// dead socket.
type KeepAlive struct {
	mu sync.Mutex

	intervalMs int
	query      func(ctx context.Context, node *BinaryNode, timeoutMs *int) (*BinaryNode, error)
	onLost     func(error)

	lastFrameReceived time.Time

	ticker *time.Ticker
	stopCh chan struct{}
}

// NewKeepAlive creates a keep-alive loop. query sends the ping iq through
// the dispatcher; onLost is invoked (once) when staleness is detected.
func NewKeepAlive(intervalMs int, query func(context.Context, *BinaryNode, *int) (*BinaryNode, error), onLost func(error)) *KeepAlive {
	return &KeepAlive{
		intervalMs:        intervalMs,
		query:             query,
		onLost:            onLost,
		lastFrameReceived: timeNow(),
	}
}

// timeNow exists so keep-alive's single use of wall-clock time is in one
// place; production code calls time.Now directly everywhere else.
func timeNow() time.Time { return time.Now() }

// NoteFrameReceived records that a frame just arrived, resetting the
// staleness clock, spec.md §4.8.
func (k *KeepAlive) NoteFrameReceived() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.lastFrameReceived = time.Now()
}

// Start begins the ticker loop on its own goroutine. Stop must be called
// exactly once to release it.
func (k *KeepAlive) Start() {
	k.mu.Lock()
	k.ticker = time.NewTicker(time.Duration(k.intervalMs) * time.Millisecond)
	k.stopCh = make(chan struct{})
	ticker := k.ticker
	stopCh := k.stopCh
	k.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				k.tick()
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop halts the ticker loop. Safe to call multiple times.
func (k *KeepAlive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.ticker != nil {
		k.ticker.Stop()
		k.ticker = nil
	}
	if k.stopCh != nil {
		close(k.stopCh)
		k.stopCh = nil
	}
}

func (k *KeepAlive) tick() {
	k.mu.Lock()
	last := k.lastFrameReceived
	interval := k.intervalMs
	k.mu.Unlock()

	if time.Since(last) > time.Duration(interval+KeepAliveStalenessGraceMs)*time.Millisecond {
		k.onLost(ErrConnectionLost(nil))
		return
	}

	ping := NewNode("ping", nil)
	iq := NewNode("iq", []*BinaryNode{ping})
	iq.SetAttr("xmlns", "w:p")
	iq.SetAttr("type", "get")
	iq.SetAttr("to", "s.whatsapp.net")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(interval)*time.Millisecond)
	defer cancel()
	if _, err := k.query(ctx, iq, nil); err != nil {
		k.onLost(ErrConnectionLost(err))
	}
}
