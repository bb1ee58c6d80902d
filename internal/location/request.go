package location

import (
	"context"
	"sync"

	"wisefido-checkin/internal/models"
)

// Request 一次定位请求，只能完成一次
type Request struct {
	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	coord    models.Coordinate
	err      error
	cancel   context.CancelFunc
}

func newRequest(cancel context.CancelFunc) *Request {
	if cancel == nil {
		cancel = func() {}
	}
	return &Request{done: make(chan struct{}), cancel: cancel}
}

// Resolve 完成请求；重复完成返回 ErrAlreadyResolved，结果保持第一次的值
func (r *Request) Resolve(coord models.Coordinate, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved {
		return ErrAlreadyResolved
	}
	r.resolved = true
	r.coord = coord
	r.err = err
	close(r.done)
	return nil
}

// Done 请求完成后关闭
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Resolved 是否已完成
func (r *Request) Resolved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved
}

// Result 请求结果（完成前为零值）
func (r *Request) Result() (models.Coordinate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coord, r.err
}

// Wait 等待请求完成
func (r *Request) Wait(ctx context.Context) (models.Coordinate, error) {
	select {
	case <-r.done:
		return r.Result()
	case <-ctx.Done():
		return models.Coordinate{}, ctx.Err()
	}
}

// Cancel 取消进行中的定位
func (r *Request) Cancel() {
	r.cancel()
}
