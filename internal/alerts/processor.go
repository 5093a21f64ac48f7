package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"guardianpath/internal/config"
	"guardianpath/internal/metrics"
	"guardianpath/internal/model"
)

type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

var (
	ErrAlreadyConnected = errors.New("alert processor already connected")
	ErrClosed           = errors.New("alert processor closed")
	ErrNoFeed           = errors.New("alert processor has no feed")
)

type Handler func(model.Alert)

type UnreadHandler func(unread int)

// Subscription is a delivery target. Close is safe to call from inside a
// handler and from other goroutines.
type Subscription struct {
	p        *Processor
	active   atomic.Bool
	onAlert  Handler
	onUnread UnreadHandler
}

func (s *Subscription) Close() {
	s.p.Unsubscribe(s)
}

func (s *Subscription) Active() bool {
	return s.active.Load()
}

// Processor owns the bounded newest-first alert buffer. All mutations are
// serialized; deliveries happen in mutation order on the mutating goroutine.
// Handlers may call the query methods but must not mutate the processor.
type Processor struct {
	deliverMu sync.Mutex
	mu        sync.RWMutex
	buf       []model.Alert
	capacity  int
	unread    int
	subs      []*Subscription
	state     ConnState
	closed    bool

	feed   *Feed
	cancel context.CancelFunc
	wg     sync.WaitGroup

	high   atomic.Uint64
	medium atomic.Uint64

	logger *slog.Logger
	now    func() time.Time
}

func NewProcessor(capacity int, logger *slog.Logger) *Processor {
	if capacity <= 0 {
		capacity = 50
	}
	if capacity > config.MaxAlertCapacity {
		capacity = config.MaxAlertCapacity
	}
	p := &Processor{
		capacity: capacity,
		state:    StateDisconnected,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	p.SetThresholds(80, 50)
	return p
}

// AttachFeed sets the synthetic source started by Connect.
func (p *Processor) AttachFeed(f *Feed) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feed = f
}

func (p *Processor) Feed() *Feed {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.feed
}

// SetThresholds sets the score bands used to type untyped alerts.
func (p *Processor) SetThresholds(high, medium float64) {
	p.high.Store(math.Float64bits(high))
	p.medium.Store(math.Float64bits(medium))
}

func (p *Processor) SetCapacity(capacity int) error {
	if capacity < 1 || capacity > config.MaxAlertCapacity {
		return fmt.Errorf("%w: alerts.capacity=%d not in [1, %d]", config.ErrConfigOutOfRange, capacity, config.MaxAlertCapacity)
	}
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()
	p.mu.Lock()
	p.capacity = capacity
	before := p.unread
	p.trimLocked()
	unread := p.unread
	subs := p.snapshotLocked()
	p.mu.Unlock()
	if unread != before {
		deliverUnread(subs, unread)
	}
	return nil
}

// Ingest normalizes alert, buffers it newest-first and delivers it. An entry
// already buffered under the same id is replaced.
func (p *Processor) Ingest(alert model.Alert) model.Alert {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = p.now()
	}
	if math.IsNaN(alert.RiskScore) {
		alert.RiskScore = 0
	}
	alert.RiskScore = model.ClampScore(alert.RiskScore)
	if !ValidType(alert.Type) {
		high := math.Float64frombits(p.high.Load())
		medium := math.Float64frombits(p.medium.Load())
		alert.Type = ClassifyScore(alert.RiskScore, high, medium)
	}
	if alert.Title == "" {
		alert.Title = Title(alert.Type)
	}
	if alert.Source == "" {
		alert.Source = SourceExternal
	}
	alert.Read = false

	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()
	p.mu.Lock()
	next := make([]model.Alert, 0, min(len(p.buf)+1, p.capacity))
	next = append(next, alert)
	for _, cur := range p.buf {
		if cur.ID != alert.ID {
			next = append(next, cur)
		}
	}
	p.buf = next
	p.trimLocked()
	unread := p.unread
	subs := p.snapshotLocked()
	p.mu.Unlock()

	metrics.AlertsIngested.WithLabelValues(string(alert.Type), alert.Source).Inc()
	metrics.AlertsUnread.Set(float64(unread))
	for _, s := range subs {
		if s.onAlert != nil && s.active.Load() {
			s.onAlert(alert)
		}
	}
	deliverUnread(subs, unread)
	return alert
}

// MarkAsRead reports whether an unread entry was flipped.
func (p *Processor) MarkAsRead(id string) bool {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()
	p.mu.Lock()
	flipped := false
	for i := range p.buf {
		if p.buf[i].ID == id {
			if !p.buf[i].Read {
				p.buf[i].Read = true
				p.unread--
				flipped = true
			}
			break
		}
	}
	unread := p.unread
	subs := p.snapshotLocked()
	p.mu.Unlock()
	if flipped {
		metrics.AlertsUnread.Set(float64(unread))
		deliverUnread(subs, unread)
	}
	return flipped
}

// MarkAllAsRead returns how many entries were flipped.
func (p *Processor) MarkAllAsRead() int {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()
	p.mu.Lock()
	flipped := 0
	for i := range p.buf {
		if !p.buf[i].Read {
			p.buf[i].Read = true
			flipped++
		}
	}
	p.unread = 0
	subs := p.snapshotLocked()
	p.mu.Unlock()
	metrics.AlertsUnread.Set(0)
	if flipped > 0 {
		deliverUnread(subs, 0)
	}
	return flipped
}

func (p *Processor) Clear() {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()
	p.mu.Lock()
	hadUnread := p.unread > 0
	p.buf = nil
	p.unread = 0
	subs := p.snapshotLocked()
	p.mu.Unlock()
	metrics.AlertsUnread.Set(0)
	if hadUnread {
		deliverUnread(subs, 0)
	}
}

// List returns up to limit entries newest-first; limit <= 0 means all.
func (p *Processor) List(limit int) []model.Alert {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if limit <= 0 || limit > len(p.buf) {
		limit = len(p.buf)
	}
	out := make([]model.Alert, limit)
	copy(out, p.buf[:limit])
	return out
}

func (p *Processor) Get(id string) (model.Alert, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, a := range p.buf {
		if a.ID == id {
			return a, true
		}
	}
	return model.Alert{}, false
}

func (p *Processor) UnreadCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.unread
}

func (p *Processor) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.buf)
}

func (p *Processor) Capacity() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.capacity
}

func (p *Processor) State() ConnState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Processor) Subscribe(fn Handler) *Subscription {
	return p.subscribe(&Subscription{p: p, onAlert: fn})
}

func (p *Processor) SubscribeUnread(fn UnreadHandler) *Subscription {
	return p.subscribe(&Subscription{p: p, onUnread: fn})
}

// WatchUnread registers fn and hands it the current count first. The initial
// call is ordered with deliveries, so fn never sees an older count after a
// newer one.
func (p *Processor) WatchUnread(fn UnreadHandler) *Subscription {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()
	s := p.subscribe(&Subscription{p: p, onUnread: fn})
	fn(p.UnreadCount())
	return s
}

func (p *Processor) subscribe(s *Subscription) *Subscription {
	s.active.Store(true)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, s)
	return s
}

// Unsubscribe removes s. Buffered entries are not touched. It does not wait
// for an in-flight delivery but no further delivery reaches s.
func (p *Processor) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	s.active.Store(false)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.subs {
		if cur == s {
			p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
			return
		}
	}
}

// Connect moves the session from disconnected through connecting to
// connected and starts the attached feed. It is a one-shot transition; a
// Close racing with it wins and Connect returns ErrClosed.
func (p *Processor) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.state != StateDisconnected {
		p.mu.Unlock()
		return ErrAlreadyConnected
	}
	p.state = StateConnecting
	feed := p.feed
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	if feed != nil {
		p.wg.Add(1)
	}
	p.mu.Unlock()

	if feed != nil {
		go func() {
			defer p.wg.Done()
			feed.Run(runCtx, func(a model.Alert) {
				p.Ingest(a)
			})
		}()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.state = StateConnected
	p.mu.Unlock()
	if p.logger != nil {
		p.logger.Info("alert stream connected", "feed", feed != nil, "capacity", p.Capacity())
	}
	return nil
}

// Close stops the feed and waits for it. No emission happens after Close
// returns. A closed processor cannot reconnect.
func (p *Processor) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.mu.Lock()
	p.state = StateDisconnected
	p.mu.Unlock()
}

// TriggerTest ingests the fixed test alert for t.
func (p *Processor) TriggerTest(t model.AlertType) (model.Alert, error) {
	feed := p.Feed()
	if feed == nil {
		return model.Alert{}, ErrNoFeed
	}
	return p.Ingest(feed.TestAlert(t)), nil
}

func (p *Processor) trimLocked() {
	if len(p.buf) > p.capacity {
		p.buf = p.buf[:p.capacity:p.capacity]
	}
	unread := 0
	for _, a := range p.buf {
		if !a.Read {
			unread++
		}
	}
	p.unread = unread
}

func (p *Processor) snapshotLocked() []*Subscription {
	out := make([]*Subscription, len(p.subs))
	copy(out, p.subs)
	return out
}

func deliverUnread(subs []*Subscription, unread int) {
	for _, s := range subs {
		if s.onUnread != nil && s.active.Load() {
			s.onUnread(unread)
		}
	}
}
