package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"routinebot/internal/runtime/supervisor"
	kit "routinebot/internal/transport"
	logx "routinebot/pkg/logx"
	"routinebot/pkg/tgui"
)

type Command struct {
	// Name is the command word without the slash, e.g. "status".
	Name        string
	Aliases     []string
	Description string
	// Buttons are reply keyboard texts that trigger the command.
	Buttons []string
	Timeout time.Duration
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline button data "ns:action:payload".
type CallbackRoute struct {
	NS      string
	Action  string
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

// User is the sender of an update.
type User struct {
	ID        int64
	Username  string
	FirstName string
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	User     User
	Command  string
	Args     []string
	Text     string
	Callback *kit.Callback
	ReqID    string

	Adapter kit.Adapter
	Logger  logx.Logger
}

type Config struct {
	Workers   int
	QueueSize int
	// Timeout bounds a handler unless the route sets its own.
	Timeout time.Duration
	// Busy is replied when the job queue is full.
	Busy string
	// Unknown is replied to an unrecognized /command.
	Unknown string
}

// Router dispatches inbound updates to commands, keyboard buttons, callback
// routes and a free-text fallback on a bounded worker pool.
type Router struct {
	cfg     Config
	log     logx.Logger
	adapter kit.Adapter
	app     *supervisor.Supervisor
	reg     *supervisor.Registry

	mu        sync.RWMutex
	commands  map[string]*Command
	buttons   map[string]*Command
	menu      []kit.BotCommand
	callbacks map[string]map[string]CallbackRoute
	text      HandlerFunc
	mws       []Middleware

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	jobs chan func()
}

// New builds a router. app runs the menu update and may be nil in tests;
// reg, when set, receives the worker pool supervisor while it runs.
func New(cfg Config, log logx.Logger, adapter kit.Adapter, app *supervisor.Supervisor, reg *supervisor.Registry) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = max(2, runtime.NumCPU())
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Busy == "" {
		cfg.Busy = "busy, try again"
	}
	return &Router{
		cfg:       cfg,
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		app:       app,
		reg:       reg,
		commands:  map[string]*Command{},
		buttons:   map[string]*Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		jobs:      make(chan func(), cfg.QueueSize),
	}
}

// Use appends middleware run inside the built-in recover/log/timeout chain.
func (r *Router) Use(m ...Middleware) {
	r.mu.Lock()
	r.mws = append(r.mws, m...)
	r.mu.Unlock()
}

// OnText sets the handler for plain text that matches no button.
func (r *Router) OnText(h HandlerFunc) {
	r.mu.Lock()
	r.text = h
	r.mu.Unlock()
}

// SetRegistry replaces commands and callback routes and publishes the
// command menu.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	commands := map[string]*Command{}
	buttons := map[string]*Command{}
	candidates := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		commands[name] = &cc
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, exists := commands[a]; !exists {
				commands[a] = &cc
			}
		}
		for _, b := range c.Buttons {
			if b = normalizeButton(b); b != "" {
				buttons[b] = &cc
			}
		}
		candidates = append(candidates, cc)
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, rt := range cbs {
		ns := strings.TrimSpace(rt.NS)
		a := strings.TrimSpace(rt.Action)
		if ns == "" || a == "" || rt.Handle == nil {
			continue
		}
		if cb[ns] == nil {
			cb[ns] = map[string]CallbackRoute{}
		}
		cb[ns][a] = rt
	}
	menu := buildMenuCommands(candidates)

	r.mu.Lock()
	r.commands = commands
	r.buttons = buttons
	r.menu = menu
	r.callbacks = cb
	r.mu.Unlock()

	r.publishMenu(menu)
}

// Menu returns the command menu built by the last SetRegistry.
func (r *Router) Menu() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]kit.BotCommand(nil), r.menu...)
}

func (r *Router) publishMenu(menu []kit.BotCommand) {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok || len(menu) == 0 {
		return
	}
	run := func(parent context.Context) {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			r.log.Warn("menu update failed", logx.Err(err))
		}
	}
	if r.app != nil {
		r.app.Go0("telegram.menu.update", run)
		return
	}
	go run(context.Background())
}

// Supervisor returns the worker pool supervisor (nil when not running).
func (r *Router) Supervisor() *supervisor.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

func (r *Router) setSupervisor(sup *supervisor.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

// tryEnqueue reports false when the queue is full or already closed.
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := r.cfg.Workers
	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)
	r.setSupervisor(sup, true)
	if r.reg != nil {
		r.reg.Set("telegram.router", sup)
	}
	r.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			r.setSupervisor(sup, false)
			close(r.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in router job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		if r.reg != nil {
			r.reg.Delete("telegram.router")
		}
		r.setSupervisor(nil, false)
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID}

	r.mu.RLock()
	commands, buttons, onText := r.commands, r.buttons, r.text
	r.mu.RUnlock()

	if strings.HasPrefix(text, "/") {
		parts := strings.Fields(text)
		word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
		if i := strings.IndexByte(word, '@'); i >= 0 {
			word = word[:i]
		}
		cmd, ok := commands[word]
		if !ok {
			if r.cfg.Unknown != "" {
				_, _ = r.adapter.SendText(root, chat, r.cfg.Unknown, nil)
			}
			return
		}
		r.enqueue(root, up, chat, cmd.Name, parts[1:], cmd.Timeout, cmd.Handle, nil)
		return
	}

	if cmd, ok := buttons[normalizeButton(text)]; ok {
		r.enqueue(root, up, chat, cmd.Name, nil, cmd.Timeout, cmd.Handle, nil)
		return
	}
	if onText != nil {
		r.enqueue(root, up, chat, "text", nil, 0, onText, nil)
	}
}

func (r *Router) routeCallback(root context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	ns, action, payload, ok := tgui.Parse(cb.Data)
	if !ok {
		_ = r.adapter.AnswerCallback(root, cb.ID, "")
		return
	}
	r.mu.RLock()
	route, ok := r.callbacks[ns][action]
	r.mu.RUnlock()
	if !ok {
		r.log.Debug("callback without route", logx.String("data", cb.Data))
		_ = r.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	h := func(ctx context.Context, req *Request) error { return route.Handle(ctx, req, payload) }
	chat := kit.ChatTarget{ChatID: cb.ChatID}
	if !r.enqueue(root, up, chat, "cb:"+ns+":"+action, nil, route.Timeout, h, cb) {
		_ = r.adapter.AnswerCallback(root, cb.ID, r.cfg.Busy)
	}
}

func (r *Router) enqueue(root context.Context, up kit.Update, chat kit.ChatTarget, name string, args []string, timeout time.Duration, h HandlerFunc, cb *kit.Callback) bool {
	user := userOf(up)
	rid := xid.New().String()
	req := &Request{
		Update:   up,
		Chat:     chat,
		User:     user,
		Command:  name,
		Args:     args,
		Callback: cb,
		ReqID:    rid,
		Adapter:  r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("user_id", user.ID),
			logx.String("cmd", name),
		),
	}
	if up.Message != nil {
		req.Text = strings.TrimSpace(up.Message.Text)
	}
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}

	r.mu.RLock()
	mws := append([]Middleware{MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(timeout)}, r.mws...)
	r.mu.RUnlock()
	final := Chain(h, mws...)

	ok := r.tryEnqueue(func() { _ = final(root, req) })
	if !ok && cb == nil {
		_, _ = r.adapter.SendText(root, chat, r.cfg.Busy, nil)
	}
	return ok
}

func userOf(up kit.Update) User {
	switch {
	case up.Message != nil:
		return User{ID: up.Message.FromID, Username: up.Message.FromUsername, FirstName: up.Message.FromFirstName}
	case up.Callback != nil:
		return User{ID: up.Callback.FromID, Username: up.Callback.FromUsername, FirstName: up.Callback.FromFirstName}
	}
	return User{}
}

func normalizeButton(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
