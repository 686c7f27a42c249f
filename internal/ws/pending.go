package ws

import (
	"sync"
	"time"
)

// pendingMessage is a send attempted while the socket was not connected. It
// waits in the queue until the next successful connection flushes it, its
// max age elapses, or the socket is closed. Whichever happens first completes
// the message exactly once.
type pendingMessage struct {
	payload    []byte
	enqueuedAt time.Time

	once sync.Once
	done chan error
}

func newPendingMessage(payload []byte) *pendingMessage {
	return &pendingMessage{
		payload:    payload,
		enqueuedAt: time.Now(),
		done:       make(chan error, 1),
	}
}

func (p *pendingMessage) complete(err error) {
	p.once.Do(func() {
		p.done <- err
	})
}

func (p *pendingMessage) age() time.Duration {
	return time.Since(p.enqueuedAt)
}
