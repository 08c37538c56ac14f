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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func acquired(t *Ticket) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	return t.Acquire(ctx) == nil
}

func TestNameLocks_FirstTicketAcquiresImmediately(t *testing.T) {
	locks := NewNameLocks()

	ticket := locks.Reserve("acme")
	assert.Equal(t, "acme", ticket.Name())
	require.NoError(t, ticket.Acquire(context.Background()))
	assert.Equal(t, 1, locks.Len())

	ticket.Release()
	assert.Equal(t, 0, locks.Len(), "lock entry is dropped once no ticket is outstanding")
}

func TestNameLocks_FIFO(t *testing.T) {
	locks := NewNameLocks()

	first := locks.Reserve("acme")
	second := locks.Reserve("acme")
	third := locks.Reserve("acme")

	assert.True(t, acquired(first))
	assert.False(t, acquired(second))
	assert.False(t, acquired(third))

	first.Release()
	assert.True(t, acquired(second))
	assert.False(t, acquired(third))

	second.Release()
	assert.True(t, acquired(third))
	third.Release()
	assert.Equal(t, 0, locks.Len())
}

func TestNameLocks_ReleaseWithoutAcquire(t *testing.T) {
	locks := NewNameLocks()

	first := locks.Reserve("acme")
	second := locks.Reserve("acme")
	third := locks.Reserve("acme")

	// A waiting ticket that gives up must not pass the lock on
	second.Release()
	assert.False(t, acquired(third))

	first.Release()
	assert.True(t, acquired(third))

	// Releasing twice is a no-op
	first.Release()
	third.Release()
	assert.Equal(t, 0, locks.Len())
}

func TestNameLocks_NamesAreIndependent(t *testing.T) {
	locks := NewNameLocks()

	acme := locks.Reserve("acme")
	other := locks.Reserve("other")

	assert.True(t, acquired(acme))
	assert.True(t, acquired(other))
	assert.Equal(t, 2, locks.Len())

	acme.Release()
	other.Release()
}

func TestNameLocks_AcquireHonorsContext(t *testing.T) {
	locks := NewNameLocks()
	holder := locks.Reserve("acme")
	waiter := locks.Reserve("acme")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, waiter.Acquire(ctx), context.Canceled)

	waiter.Release()
	holder.Release()
	assert.Equal(t, 0, locks.Len())
}

func TestNameLocks_MutualExclusion(t *testing.T) {
	locks := NewNameLocks()

	var (
		wg      sync.WaitGroup
		mutex   sync.Mutex
		holders int
		order   []int
		tickets []*Ticket
	)
	for i := 0; i < 10; i++ {
		tickets = append(tickets, locks.Reserve("acme"))
	}

	for i, ticket := range tickets {
		wg.Add(1)
		go func(i int, ticket *Ticket) {
			defer wg.Done()
			defer ticket.Release()
			assert.NoError(t, ticket.Acquire(context.Background()))

			mutex.Lock()
			holders++
			assert.Equal(t, 1, holders)
			order = append(order, i)
			mutex.Unlock()

			time.Sleep(time.Millisecond)

			mutex.Lock()
			holders--
			mutex.Unlock()
		}(i, ticket)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
	assert.Equal(t, 0, locks.Len())
}
