package lsp

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fhs/lspc/internal/lsp/protocol"
)

// Disposable releases a registration.
type Disposable interface {
	Dispose()
}

// DisposeFunc adapts a function to a Disposable. The function is
// called at most once.
func DisposeFunc(f func()) Disposable {
	return &disposeOnce{f: f}
}

type disposeOnce struct {
	once sync.Once
	f    func()
}

func (d *disposeOnce) Dispose() { d.once.Do(d.f) }

// ProgressKind distinguishes work done progress, which the work done
// middleware can intercept, from other progress streams.
type ProgressKind int

const (
	PartialResultProgress ProgressKind = iota
	WorkDoneProgress
)

// WorkDoneProgressMiddleware intercepts work done progress values. It
// sees the raw value and decides whether to call next.
type WorkDoneProgressMiddleware func(token protocol.ProgressToken, value json.RawMessage, next ProgressHandler)

// handlerEntry is a handler the application registered. binding is
// non-nil while the handler is routed by a live connection.
type handlerEntry struct {
	request      RequestHandler
	notification NotificationHandler
	progress     ProgressHandler
	binding      func()
}

// handlerRegistry holds the request, notification and progress handlers
// of a client. Handlers registered while there is no connection stay
// pending and are bound when the next connection is established.
type handlerRegistry struct {
	mu            sync.Mutex
	conn          *Connection
	requests      map[string]*handlerEntry
	notifications map[string]*handlerEntry
	progress      map[protocol.ProgressToken]*handlerEntry
	middleware    WorkDoneProgressMiddleware
}

func newHandlerRegistry(mw WorkDoneProgressMiddleware) *handlerRegistry {
	return &handlerRegistry{
		requests:      make(map[string]*handlerEntry),
		notifications: make(map[string]*handlerEntry),
		progress:      make(map[protocol.ProgressToken]*handlerEntry),
		middleware:    mw,
	}
}

func (r *handlerRegistry) onRequest(method string, h RequestHandler) Disposable {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.requests[method]
	if ok {
		e.request = h
	} else {
		e = &handlerEntry{request: h}
		r.requests[method] = e
		if r.conn != nil {
			e.binding = r.bindRequestLocked(r.conn, method, e)
		}
	}
	return DisposeFunc(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.requests[method] == e {
			delete(r.requests, method)
		}
		e.unbind()
	})
}

func (r *handlerRegistry) onNotification(method string, h NotificationHandler) Disposable {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.notifications[method]
	if ok {
		e.notification = h
	} else {
		e = &handlerEntry{notification: h}
		r.notifications[method] = e
		if r.conn != nil {
			e.binding = r.bindNotificationLocked(r.conn, method, e)
		}
	}
	return DisposeFunc(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.notifications[method] == e {
			delete(r.notifications, method)
		}
		e.unbind()
	})
}

func (r *handlerRegistry) onProgress(kind ProgressKind, token protocol.ProgressToken, h ProgressHandler) Disposable {
	if kind == WorkDoneProgress && r.middleware != nil {
		mw, next := r.middleware, h
		h = func(value json.RawMessage) {
			mw(token, value, next)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.progress[token]
	if ok {
		e.progress = h
	} else {
		e = &handlerEntry{progress: h}
		r.progress[token] = e
		if r.conn != nil {
			e.binding = r.bindProgressLocked(r.conn, token, e)
		}
	}
	return DisposeFunc(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.progress[token] == e {
			delete(r.progress, token)
		}
		e.unbind()
	})
}

func (e *handlerEntry) unbind() {
	if e.binding != nil {
		e.binding()
		e.binding = nil
	}
}

// The bound functions look up the entry's handler on every call so that
// re-registering a method takes effect without rebinding it.

func (r *handlerRegistry) bindRequestLocked(c *Connection, method string, e *handlerEntry) func() {
	return c.bindRequest(method, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		r.mu.Lock()
		h := e.request
		r.mu.Unlock()
		return h(ctx, params)
	}, false)
}

func (r *handlerRegistry) bindNotificationLocked(c *Connection, method string, e *handlerEntry) func() {
	return c.bindNotification(method, func(ctx context.Context, params json.RawMessage) {
		r.mu.Lock()
		h := e.notification
		r.mu.Unlock()
		h(ctx, params)
	})
}

func (r *handlerRegistry) bindProgressLocked(c *Connection, token protocol.ProgressToken, e *handlerEntry) func() {
	return c.bindProgress(token, func(value json.RawMessage) {
		r.mu.Lock()
		h := e.progress
		r.mu.Unlock()
		h(value)
	})
}

// bind routes every pending handler through c.
func (r *handlerRegistry) bind(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conn = c
	for method, e := range r.requests {
		if e.binding == nil {
			e.binding = r.bindRequestLocked(c, method, e)
		}
	}
	for method, e := range r.notifications {
		if e.binding == nil {
			e.binding = r.bindNotificationLocked(c, method, e)
		}
	}
	for token, e := range r.progress {
		if e.binding == nil {
			e.binding = r.bindProgressLocked(c, token, e)
		}
	}
}

// unbind forgets the current connection. Every handler becomes
// pending again.
func (r *handlerRegistry) unbind() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conn = nil
	for _, m := range []map[string]*handlerEntry{r.requests, r.notifications} {
		for _, e := range m {
			e.unbind()
		}
	}
	for _, e := range r.progress {
		e.unbind()
	}
}

// pending returns the number of registered handlers that are not bound.
func (r *handlerRegistry) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, m := range []map[string]*handlerEntry{r.requests, r.notifications} {
		for _, e := range m {
			if e.binding == nil {
				n++
			}
		}
	}
	for _, e := range r.progress {
		if e.binding == nil {
			n++
		}
	}
	return n
}
