package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"outagebot/internal/eventbus"
	rtsup "outagebot/internal/runtime/supervisor"
	"outagebot/internal/transport"
	"outagebot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historyMax = 300

type job struct {
	n   Notification
	key string
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter transport.Adapter
	bus     eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	stopped   bool
	sendWG    sync.WaitGroup

	queue chan job
	sup   *rtsup.Supervisor

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	s := &Service{
		adapter: adapter,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		dedup:   map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps rate and timeout settings. Worker and queue sizes take effect
// on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
		return
	}
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.RatePerSec)
}

// Deliver sends text (Telegram HTML) to chatID now, waiting for a rate-limit
// token first. It does not retry.
func (s *Service) Deliver(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	return s.send(ctx, chatID, text, "")
}

// Start launches the broadcast workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil || s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	sup, q := s.sup, s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		}, rtsup.WithPublishFirstError(true))
	}
}

// Notify queues n for asynchronous delivery.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(n)
	if window > 0 && !s.dedupAllow(key, window) {
		s.publish(EventDeduped, n.ChatID, key, nil)
		return nil
	}

	select {
	case q <- job{n: n, key: key}:
		return nil
	default:
		s.publish(EventDropped, n.ChatID, key, ErrQueueFull)
		return ErrQueueFull
	}
}

// Stop rejects new work, drains the queue and waits for in-flight sends
// until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.accepting = false
	q, sup := s.queue, s.sup
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close the queue so workers drain.
		s.sendWG.Wait()
		if q != nil {
			close(q)
		}
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			if err := s.send(ctx, j.n.ChatID, j.n.Text, j.key); err != nil {
				s.log.Debug("notify send failed", logx.Int64("chat_id", j.n.ChatID), logx.Err(err))
			}
		}
	}
}

func (s *Service) send(ctx context.Context, chatID int64, text, key string) error {
	s.mu.Lock()
	lim, tmo, ad := s.limiter, s.cfg.SendTimeout, s.adapter
	s.mu.Unlock()

	if ad == nil {
		return ErrStopped
	}
	if err := lim.Wait(ctx); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, tmo)
	defer cancel()
	_, err := ad.SendText(cctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	})
	if err != nil {
		s.publish(EventFailed, chatID, key, err)
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	s.appendHistory(chatID, text)
	s.publish(EventSent, chatID, key, nil)
	return nil
}

func (s *Service) appendHistory(chatID int64, text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), ChatID: chatID, Text: text})
	if len(s.history) > historyMax {
		s.history = s.history[len(s.history)-historyMax:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, chatID int64, key string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := Event{ChatID: chatID, Key: key, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func dedupKey(n Notification) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strconv.FormatInt(n.ChatID, 10)))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(n.Text))
	return strconv.FormatUint(h.Sum64(), 16)
}

func (s *Service) dedupAllow(key string, window time.Duration) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()

	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}
