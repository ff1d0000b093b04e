package engine

import "context"

// pool bounds the number of engine calls executing at once. The underlying
// docker client is blocking-only; capping in-flight calls keeps a burst of
// transfer requests from opening an unbounded number of daemon connections.
type pool struct {
	slots chan struct{}
}

func newPool(size int) *pool {
	if size < 1 {
		size = 1
	}
	return &pool{slots: make(chan struct{}, size)}
}

// run executes fn once a worker slot is free. Waiting for a slot is
// interruptible through ctx; fn itself is not.
func (p *pool) run(ctx context.Context, fn func() error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slots }()
	return fn()
}
