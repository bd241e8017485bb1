package pipeline

import (
	"sync"

	"github.com/khaledhikmat/camwatch/model"
)

// FrameBuffer is a single-slot mailbox between acquisition and processing.
// Publish overwrites whatever is in the slot; an unread frame is dropped,
// never queued. The lock is held only for the pointer swap.
type FrameBuffer struct {
	mu        sync.Mutex
	frame     *model.Frame
	unread    bool
	drops     uint64
	published uint64

	readyOnce sync.Once
	ready     chan struct{}
	updated   chan struct{}
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{
		ready:   make(chan struct{}),
		updated: make(chan struct{}, 1),
	}
}

// Publish replaces the slot's contents without blocking.
func (b *FrameBuffer) Publish(frame model.Frame) {
	f := &frame

	b.mu.Lock()
	if b.unread {
		b.drops++
	}
	b.frame = f
	b.unread = true
	b.published++
	b.mu.Unlock()

	b.readyOnce.Do(func() { close(b.ready) })

	select {
	case b.updated <- struct{}{}:
	default:
	}
}

// Latest returns the most recently published frame, or false if nothing has
// been published yet.
func (b *FrameBuffer) Latest() (model.Frame, bool) {
	b.mu.Lock()
	f := b.frame
	b.unread = false
	b.mu.Unlock()

	if f == nil {
		return model.Frame{}, false
	}
	return *f, true
}

// Ready is closed by the first Publish.
func (b *FrameBuffer) Ready() <-chan struct{} {
	return b.ready
}

// Updated receives a value after one or more publishes since the last
// receive. It is meant for a single consumer.
func (b *FrameBuffer) Updated() <-chan struct{} {
	return b.updated
}

// Drops returns how many frames were overwritten before anyone read them.
func (b *FrameBuffer) Drops() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drops
}

func (b *FrameBuffer) Published() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published
}
