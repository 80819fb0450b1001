package strata

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/strata-db/strata/engine"
)

// readerPool is a bounded collection of reader engine.Conns (spec §3
// ReaderPool, §4.8 "getReader"). The free/busy accounting spec describes
// as a monitor plus a release signal is implemented with
// semaphore.Weighted bounding total readers at maxSize, and a mutex-
// guarded free slice for the dequeue-first-else-open-new policy.
type readerPool struct {
	open    func() (*engine.Conn, error)
	minSize int
	maxSize int
	sem     *semaphore.Weighted
	mu      sync.Mutex
	free    []*engine.Conn
}

func newReaderPool(minSize, maxSize int, open func() (*engine.Conn, error)) *readerPool {
	if minSize < 1 {
		minSize = 1
	}
	if maxSize < minSize {
		maxSize = minSize
	}
	return &readerPool{open: open, minSize: minSize, maxSize: maxSize, sem: semaphore.NewWeighted(int64(maxSize))}
}

// Reader is a handle leased from the pool. Release must be called
// exactly once.
type Reader struct {
	conn *engine.Conn
	pool *readerPool
}

// Conn exposes the underlying engine connection.
func (r *Reader) Conn() *engine.Conn { return r.conn }

// Release returns the connection to the free queue and signals the
// semaphore (spec: "disposal... returns the underlying connection to the
// free queue... and signals the release").
func (r *Reader) Release() {
	r.pool.release(r.conn)
}

// Get implements spec §4.8's getReader policy: the semaphore bounds the
// number of readers concurrently checked out at maxSize (blocking —
// "wait on the release signal and retry" — once that bound is hit); once
// a permit is held, a free reader is dequeued if one exists, else a new
// one is opened.
func (p *readerPool) Get(ctx context.Context) (*Reader, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if n := len(p.free); n > 0 {
		c := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return &Reader{conn: c, pool: p}, nil
	}
	p.mu.Unlock()

	conn, err := p.open()
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return &Reader{conn: conn, pool: p}, nil
}

func (p *readerPool) release(c *engine.Conn) {
	p.mu.Lock()
	p.free = append(p.free, c)
	p.mu.Unlock()
	p.sem.Release(1)
}

// Close disposes every connection that is free at the time of the call.
// Readers still checked out are not closed: their Release puts them back
// on the free list, from which a later Get can hand them out again.
func (p *readerPool) Close() error {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.mu.Unlock()

	var firstErr error
	for _, c := range free {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
