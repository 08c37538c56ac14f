/*
Copyright (c) 2025 Odd Kin <oddkin@oddkin.co>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package lifecycle

import (
	"context"
	"sync"
)

// NameLocks is a registry of FIFO mutual-exclusion locks keyed by name.
// A lock exists only while tickets for its name are outstanding.
type NameLocks struct {
	mutex  sync.Mutex
	queues map[string][]*Ticket
}

// Ticket is a place in the queue of a named lock
type Ticket struct {
	name     string
	locks    *NameLocks
	ready    chan struct{}
	released bool
}

// NewNameLocks creates an empty lock registry
func NewNameLocks() *NameLocks {
	return &NameLocks{
		queues: make(map[string][]*Ticket),
	}
}

// Reserve queues a ticket for name. Tickets acquire the lock in reservation order.
func (l *NameLocks) Reserve(name string) *Ticket {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	t := &Ticket{
		name:  name,
		locks: l,
		ready: make(chan struct{}),
	}
	l.queues[name] = append(l.queues[name], t)
	if len(l.queues[name]) == 1 {
		close(t.ready)
	}

	return t
}

// Len returns the number of names with outstanding tickets
func (l *NameLocks) Len() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return len(l.queues)
}

// Name returns the locked name
func (t *Ticket) Name() string {
	return t.name
}

// Acquire blocks until every earlier ticket for the name is released or ctx is done.
// The ticket must be released in both cases.
func (t *Ticket) Acquire(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	default:
	}

	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release leaves the queue and hands the lock to the next ticket.
// Releasing twice is a no-op.
func (t *Ticket) Release() {
	l := t.locks
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if t.released {
		return
	}
	t.released = true

	queue := l.queues[t.name]
	for i, queued := range queue {
		if queued != t {
			continue
		}
		queue = append(queue[:i], queue[i+1:]...)
		if i == 0 && len(queue) > 0 {
			close(queue[0].ready)
		}
		break
	}

	if len(queue) == 0 {
		delete(l.queues, t.name)
	} else {
		l.queues[t.name] = queue
	}
}
