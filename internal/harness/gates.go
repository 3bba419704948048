package harness

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/remote"
)

// request identifies the kind of remote call a step sends.
type request struct {
	op    string
	table string
}

// remoteRequest returns the remote call an action sends.
func remoteRequest(action string) (request, bool) {
	switch action {
	case "todo.create":
		return request{remote.OpInsert, model.TableTodos}, true
	case "todo.edit", "todo.toggle":
		return request{remote.OpUpdate, model.TableTodos}, true
	case "todo.delete":
		return request{remote.OpDelete, model.TableTodos}, true
	case "todo.tag":
		return request{remote.OpInsert, model.TableTodoCategories}, true
	case "todo.untag":
		return request{remote.OpDelete, model.TableTodoCategories}, true
	case "category.create":
		return request{remote.OpInsert, model.TableCategories}, true
	case "category.edit":
		return request{remote.OpUpdate, model.TableCategories}, true
	case "category.delete":
		return request{remote.OpDelete, model.TableCategories}, true
	}
	return request{}, false
}

// gate holds or fails the next remote request of one kind.
type gate struct {
	req     request
	fail    string
	release chan struct{}
	// taken is closed once a request claimed the gate.
	taken chan struct{}
}

// gates is the store interceptor of a harness run. Each gate is claimed by
// the first matching request.
type gates struct {
	mu      sync.Mutex
	waiting []*gate
}

func (g *gates) add(req request, hold bool, fail string) *gate {
	gt := &gate{req: req, fail: fail, taken: make(chan struct{})}
	if hold {
		gt.release = make(chan struct{})
	}
	g.mu.Lock()
	g.waiting = append(g.waiting, gt)
	g.mu.Unlock()
	return gt
}

// open releases gt, failing the request with msg if set.
func (g *gates) open(gt *gate, msg string) {
	g.mu.Lock()
	gt.fail = msg
	g.mu.Unlock()
	close(gt.release)
}

func (g *gates) intercept(ctx context.Context, r remote.Request) error {
	g.mu.Lock()
	var gt *gate
	for i, w := range g.waiting {
		if w.req.op == r.Op && w.req.table == r.Table {
			gt = w
			g.waiting = append(g.waiting[:i], g.waiting[i+1:]...)
			break
		}
	}
	g.mu.Unlock()
	if gt == nil {
		return nil
	}
	close(gt.taken)

	if gt.release != nil {
		select {
		case <-gt.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	g.mu.Lock()
	msg := gt.fail
	g.mu.Unlock()
	if msg != "" {
		return errors.New(msg)
	}
	return nil
}

// drop forgets gates no request claimed.
func (g *gates) drop(gt *gate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, w := range g.waiting {
		if w == gt {
			g.waiting = append(g.waiting[:i], g.waiting[i+1:]...)
			return
		}
	}
}
