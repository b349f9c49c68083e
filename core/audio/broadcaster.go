package audio

import (
	"sync"
)

const defaultSubscriptionBuffer = 32

// Broadcaster fans captured frames out to any number of independent
// subscribers. The capture device has exactly one owner; everything
// else (listening VAD, barge-in monitoring, transcription feed)
// observes frames through a subscription.
//
// Publish never blocks: a subscriber that falls behind has its oldest
// buffered frame dropped rather than stalling the device callback or
// its sibling subscribers.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
	closed      bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: map[*Subscription]struct{}{}}
}

// Subscribe attaches a new subscriber. The returned subscription must
// be closed when no longer needed, otherwise frames keep being copied
// into its buffer.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{
		frames:      make(chan Frame, defaultSubscriptionBuffer),
		broadcaster: b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.frames)
		sub.closed = true
		return sub
	}

	b.subscribers[sub] = struct{}{}
	return sub
}

// Publish delivers one frame to every live subscriber.
func (b *Broadcaster) Publish(frame Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for sub := range b.subscribers {
		select {
		case sub.frames <- frame:
		default:
			// Slow subscriber: evict the oldest frame to make room so
			// the newest frame always lands.
			select {
			case <-sub.frames:
				sub.dropped++
			default:
			}
			select {
			case sub.frames <- frame:
			default:
			}
		}
	}
}

// Close detaches and closes all subscriptions. Publish becomes a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for sub := range b.subscribers {
		if !sub.closed {
			close(sub.frames)
			sub.closed = true
		}
		delete(b.subscribers, sub)
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subscribers)
}

// Subscription is one logical consumer of the capture stream.
type Subscription struct {
	frames      chan Frame
	broadcaster *Broadcaster

	// closed is guarded by the broadcaster's mutex.
	closed  bool
	dropped int
}

// Frames exposes the subscription's frame channel. The channel is
// closed when the subscription or the broadcaster closes.
func (s *Subscription) Frames() <-chan Frame { return s.frames }

// Dropped reports how many frames were evicted because the subscriber
// fell behind.
func (s *Subscription) Dropped() int {
	s.broadcaster.mu.Lock()
	defer s.broadcaster.mu.Unlock()

	return s.dropped
}

// Close detaches the subscription from the broadcaster and closes its
// frame channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.broadcaster.mu.Lock()
	defer s.broadcaster.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	delete(s.broadcaster.subscribers, s)
	close(s.frames)
}
