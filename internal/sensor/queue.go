package sensor

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/errors"
)

var ErrPoolExhausted = fmt.Errorf("sensor read buffer pool exhausted")

// Completion of one async read. Device and Tag are context attached on Submit,
// consumers must use them and never rely on consume order.
type Completion struct {
	Device Device
	Tag    int
	Raw    []byte
	Err    error

	block []byte
}

// Queue submits reads in parallel and yields completions as they arrive.
// Raw blocks come from fixed pool and must be returned by Release.
type Queue struct {
	pool chan []byte
	cq   chan *Completion
	wg   sync.WaitGroup
}

func NewQueue(depth int, blockSize int) *Queue {
	if depth < 1 {
		panic("code error sensor queue depth < 1")
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	q := &Queue{
		pool: make(chan []byte, depth),
		cq:   make(chan *Completion, depth),
	}
	for i := 0; i < depth; i++ {
		q.pool <- make([]byte, blockSize)
	}
	return q
}

// Submit starts read and returns immediately.
// Fails only when no block is free, completion is not posted then.
func (q *Queue) Submit(ctx context.Context, dev Device, tag int) error {
	var block []byte
	select {
	case block = <-q.pool:
	default:
		return errors.Annotatef(ErrPoolExhausted, "submit %s", dev.Name())
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		c := &Completion{Device: dev, Tag: tag, block: block}
		n, err := dev.Read(ctx, block)
		if err != nil {
			c.Err = err
		} else if n < 0 || n > len(block) {
			c.Err = errors.Errorf("driver %s returned n=%d block=%d", dev.Name(), n, len(block))
		} else {
			c.Raw = block[:n]
		}
		q.cq <- c
	}()
	return nil
}

// Consume blocks until next completion.
func (q *Queue) Consume() *Completion { return <-q.cq }

// Release returns raw block to pool. Raw is invalid afterwards.
func (q *Queue) Release(c *Completion) {
	if c == nil || c.block == nil {
		return
	}
	q.pool <- c.block
	c.block, c.Raw = nil, nil
}

// Wait joins all submitted reads.
func (q *Queue) Wait() { q.wg.Wait() }

func (q *Queue) Free() int { return len(q.pool) }
