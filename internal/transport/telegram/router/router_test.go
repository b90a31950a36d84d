package router

import (
	"context"
	"sync"
	"testing"

	kit "routinebot/internal/transport"
	logx "routinebot/pkg/logx"
)

func TestSanitizeCommand(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"status":       "status",
		" Report ":     "report",
		"set-time now": "set_time_now",
		"статус":       "",
		"1abc":         "",
		"__x__":        "x",
	}
	for in, want := range cases {
		if got := sanitizeCommand(in); got != want {
			t.Fatalf("sanitizeCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildMenuCommands(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, *Request) error { return nil }
	menu := buildMenuCommands([]Command{
		{Name: "status", Aliases: []string{"статус"}, Description: "status", Handle: noop},
		{Name: "hidden", Handle: noop},
		{Name: "help", Description: "help\nme", Handle: noop},
	})
	if len(menu) != 2 || menu[0].Command != "help" || menu[1].Command != "status" {
		t.Fatalf("menu = %+v", menu)
	}
	if menu[0].Description != "help me" {
		t.Fatalf("description not flattened: %q", menu[0].Description)
	}
}

type calls struct {
	mu  sync.Mutex
	got []string
}

func (c *calls) add(s string) {
	c.mu.Lock()
	c.got = append(c.got, s)
	c.mu.Unlock()
}

func (c *calls) has(s string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range c.got {
		if g == s {
			return true
		}
	}
	return false
}

func TestDispatchLoopRoutes(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	r := New(Config{Workers: 2, Unknown: "unknown command"}, logx.Nop(), fa, nil, nil)
	c := &calls{}
	r.OnText(func(_ context.Context, req *Request) error {
		c.add("text:" + req.Text)
		return nil
	})
	r.SetRegistry([]Command{
		{
			Name:        "status",
			Aliases:     []string{"статус"},
			Description: "today",
			Buttons:     []string{"📊 Статус"},
			Handle: func(_ context.Context, req *Request) error {
				c.add("status:" + req.Command)
				return nil
			},
		},
		{
			Name: "report",
			Handle: func(_ context.Context, req *Request) error {
				if len(req.Args) == 1 {
					c.add("report:" + req.Args[0])
				}
				return nil
			},
		},
	}, []CallbackRoute{{
		NS:     "task",
		Action: "done",
		Handle: func(_ context.Context, req *Request, payload string) error {
			c.add("done:" + payload + ":" + req.Callback.ID)
			return nil
		},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 16)
	done := make(chan error, 1)
	go func() { done <- r.DispatchLoop(ctx, updates) }()

	updates <- textUpdate(1, "/status")
	updates <- textUpdate(1, "/статус@routine_bot")
	updates <- textUpdate(1, "  📊 статус ")
	updates <- textUpdate(1, "/report 14")
	updates <- textUpdate(1, "hello there")
	updates <- textUpdate(1, "/nope")
	updates <- callbackUpdate(1, "cb1", "task:done:lunch")
	updates <- callbackUpdate(1, "cb2", "other:thing")

	want := []string{"status:status", "report:14", "text:hello there", "done:lunch:cb1"}
	ok := waitFor(func() bool {
		for _, w := range want {
			if !c.has(w) {
				return false
			}
		}
		return true
	})
	if !ok {
		t.Fatalf("calls = %v, want all of %v", c.got, want)
	}
	if !waitFor(func() bool { return len(fa.texts()) == 1 && fa.texts()[0] == "unknown command" }) {
		t.Fatalf("unknown command reply missing: %v", fa.texts())
	}
	if !waitFor(func() bool {
		fa.mu.Lock()
		defer fa.mu.Unlock()
		_, answered := fa.answers["cb2"]
		return answered && len(fa.menu) == 1
	}) {
		t.Fatalf("unrouted callback not answered or menu not published")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("DispatchLoop: %v", err)
	}
	if r.Supervisor() != nil {
		t.Fatalf("supervisor still reported after stop")
	}
}

func TestTryEnqueueFullQueue(t *testing.T) {
	t.Parallel()
	r := New(Config{QueueSize: 1}, logx.Nop(), newFakeAdapter(), nil, nil)
	if !r.tryEnqueue(func() {}) {
		t.Fatalf("first enqueue failed")
	}
	if r.tryEnqueue(func() {}) {
		t.Fatalf("enqueue into a full queue succeeded")
	}
	close(r.jobs)
	if r.tryEnqueue(func() {}) {
		t.Fatalf("enqueue into a closed queue succeeded")
	}
}

func TestMiddlewareChainOrder(t *testing.T) {
	t.Parallel()
	var order []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(context.Context, *Request) error {
		order = append(order, "handler")
		return nil
	}, mw("a"), mw("b"))
	_ = h(context.Background(), &Request{})
	if len(order) != 3 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v", order)
	}
}

func TestPanicRecoverReturnsError(t *testing.T) {
	t.Parallel()
	h := Chain(func(context.Context, *Request) error { panic("boom") }, MWPanicRecover(logx.Nop()))
	if err := h(context.Background(), &Request{}); err == nil {
		t.Fatalf("panic not converted to error")
	}
}
