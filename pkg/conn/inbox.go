package conn

import (
	"context"
	"io"
	"sync"

	"github.com/snekrpc/snekrpc/pkg/wire"
)

// Inbox is a per-call, unbounded FIFO of inbound messages. It exists so
// the connection's single reader goroutine never blocks delivering to
// one call's consumer while other calls are making progress (spec §5:
// "the framing layer must never stall one call waiting for another").
// Exported so the dispatcher and client proxy, in other packages, can
// consume it directly.
type Inbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []wire.Message
	closed bool
}

func newInbox() *Inbox {
	ib := &Inbox{}
	ib.cond = sync.NewCond(&ib.mu)
	return ib
}

// push enqueues msg. Never blocks.
func (ib *Inbox) push(msg wire.Message) {
	ib.mu.Lock()
	if !ib.closed {
		ib.queue = append(ib.queue, msg)
	}
	ib.mu.Unlock()
	ib.cond.Broadcast()
}

// close marks the inbox terminated; pending Recv calls observe io.EOF.
func (ib *Inbox) close() {
	ib.mu.Lock()
	ib.closed = true
	ib.mu.Unlock()
	ib.cond.Broadcast()
}

// Recv blocks until a message is available, the inbox is closed, or ctx
// is done.
func (ib *Inbox) Recv(ctx context.Context) (wire.Message, error) {
	stop := make(chan struct{})
	defer close(stop)
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				ib.cond.Broadcast()
			case <-stop:
			}
		}()
	}

	ib.mu.Lock()
	defer ib.mu.Unlock()
	for len(ib.queue) == 0 && !ib.closed {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return wire.Message{}, ctx.Err()
			default:
			}
		}
		ib.cond.Wait()
	}
	if len(ib.queue) > 0 {
		m := ib.queue[0]
		ib.queue = ib.queue[1:]
		return m, nil
	}
	return wire.Message{}, io.EOF
}
