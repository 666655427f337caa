package bot

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"outagebot/internal/outage"
	rtsup "outagebot/internal/runtime/supervisor"
	"outagebot/internal/transport"
	"outagebot/pkg/logx"
)

const (
	defaultWorkers        = 4
	defaultJobQueue       = 256
	defaultHandlerTimeout = 45 * time.Second
)

// Request is one routed chat message.
type Request struct {
	Chat    transport.ChatTarget
	FromID  int64
	Command string // route name, e.g. "today"
	Text    string
	ReqID   string
	Logger  logx.Logger
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

// Route binds a slash command and/or reply keyboard buttons to a handler.
type Route struct {
	Name    string
	Command string // without the leading slash; empty for button-only routes
	Buttons []string
	Timeout time.Duration
	Handle  HandlerFunc
}

type RouterOptions struct {
	Workers   int
	QueueSize int
	// Timeout applies to routes without their own timeout.
	Timeout time.Duration
}

// Router dispatches transport updates to routes on a bounded worker pool.
type Router struct {
	log     logx.Logger
	adapter transport.Adapter
	opt     RouterOptions

	commands map[string]Route
	buttons  map[string]Route

	runMu   sync.Mutex
	running bool
	jobs    chan func()

	ridSeq uint64
}

func NewRouter(log logx.Logger, adapter transport.Adapter, routes []Route, opt RouterOptions) *Router {
	if opt.Workers <= 0 {
		opt.Workers = defaultWorkers
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = defaultJobQueue
	}
	if opt.Timeout <= 0 {
		opt.Timeout = defaultHandlerTimeout
	}
	r := &Router{
		log:      log.With(logx.String("comp", "bot.router")),
		adapter:  adapter,
		opt:      opt,
		commands: map[string]Route{},
		buttons:  map[string]Route{},
		jobs:     make(chan func(), opt.QueueSize),
	}
	for _, rt := range routes {
		if rt.Handle == nil {
			continue
		}
		if c := strings.ToLower(strings.TrimSpace(rt.Command)); c != "" {
			r.commands[c] = rt
		}
		for _, btn := range rt.Buttons {
			r.buttons[strings.TrimSpace(btn)] = rt
		}
	}
	return r
}

// Routes returns the standard route table of b.
func Routes(b *Bot) []Route {
	day := func(d outage.Day) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			_, err := b.RequestSchedule(ctx, req.Chat, d)
			return err
		}
	}
	return []Route{
		{Name: "start", Command: "start", Handle: func(ctx context.Context, req *Request) error {
			return b.Start(ctx, req.Chat)
		}},
		{Name: "help", Command: "help", Handle: func(ctx context.Context, req *Request) error {
			return b.Help(ctx, req.Chat)
		}},
		{Name: "today", Command: "today", Buttons: []string{ButtonToday}, Handle: day(outage.Today)},
		{Name: "tomorrow", Command: "tomorrow", Buttons: []string{ButtonTomorrow}, Handle: day(outage.Tomorrow)},
		{Name: "status", Command: "status", Handle: func(ctx context.Context, req *Request) error {
			return b.Status(ctx, req.Chat)
		}},
		{Name: "enable", Buttons: []string{ButtonEnable}, Handle: func(ctx context.Context, req *Request) error {
			_, err := b.EnableReminders(ctx, req.Chat)
			return err
		}},
		{Name: "disable", Buttons: []string{ButtonDisable}, Handle: func(ctx context.Context, req *Request) error {
			_, err := b.DisableReminders(ctx, req.Chat)
			return err
		}},
	}
}

// match resolves message text to a route. Slash commands may carry a
// "@botname" suffix and trailing arguments. ok is false for plain text that
// is neither a command nor a button; unknown reports an unrecognised
// slash command.
func (r *Router) match(text string) (rt Route, ok, unknown bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Route{}, false, false
	}
	if !strings.HasPrefix(text, "/") {
		rt, ok = r.buttons[text]
		return rt, ok, false
	}
	word := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	rt, ok = r.commands[strings.ToLower(word)]
	return rt, ok, !ok
}

// prepare builds the handler chain and request for up. It returns nil when
// the update needs no handler.
func (r *Router) prepare(ctx context.Context, up transport.Update) (HandlerFunc, *Request) {
	msg := up.Message
	if msg == nil {
		return nil, nil
	}
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	rt, ok, unknown := r.match(msg.Text)
	if unknown && !msg.IsGroup {
		// In groups other bots' commands are common; stay quiet there.
		_, _ = r.adapter.SendText(ctx, chat, textUnknown, nil)
	}
	if !ok {
		return nil, nil
	}

	rid := r.newReqID()
	req := &Request{
		Chat:    chat,
		FromID:  msg.FromID,
		Command: rt.Name,
		Text:    msg.Text,
		ReqID:   rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.String("cmd", rt.Name),
		),
	}
	timeout := rt.Timeout
	if timeout <= 0 {
		timeout = r.opt.Timeout
	}
	h := Chain(rt.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	return h, req
}

// Handle routes one update synchronously.
func (r *Router) Handle(ctx context.Context, up transport.Update) error {
	h, req := r.prepare(ctx, up)
	if h == nil {
		return nil
	}
	return h(ctx, req)
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
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

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Handlers run on a worker pool so a slow schedule fetch never blocks
// polling.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	r.runMu.Lock()
	if r.running {
		r.runMu.Unlock()
		return nil
	}
	r.running = true
	r.runMu.Unlock()

	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	r.log.Info("dispatcher started", logx.Int("workers", r.opt.Workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := 0; i < r.opt.Workers; i++ {
		idx := i
		sup.GoRestart("worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					// Middleware already recovers; keep the worker alive if a
					// job panics outside it.
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		close(r.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
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
			h, req := r.prepare(ctx, up)
			if h == nil {
				continue
			}
			if !r.tryEnqueue(func() { _ = h(ctx, req) }) {
				_, _ = r.adapter.SendText(ctx, req.Chat, textBusy, nil)
			}
		}
	}
}

func (r *Router) newReqID() string {
	n := atomic.AddUint64(&r.ridSeq, 1)
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36)
}
