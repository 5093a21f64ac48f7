package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"guardianpath/internal/config"
	"guardianpath/internal/model"
	"guardianpath/internal/registry"
)

type seqRand struct {
	mu     sync.Mutex
	values []float64
	i      int
}

func (r *seqRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.values[r.i%len(r.values)]
	r.i++
	return v
}

func alert(id string, score float64) model.Alert {
	return model.Alert{ID: id, Type: model.AlertInfo, RiskScore: score, StaffName: "x"}
}

func checkInvariants(t *testing.T, p *Processor) {
	t.Helper()
	list := p.List(0)
	if len(list) > p.Capacity() {
		t.Fatalf("buffer %d exceeds capacity %d", len(list), p.Capacity())
	}
	unread := 0
	for _, a := range list {
		if !a.Read {
			unread++
		}
	}
	if got := p.UnreadCount(); got != unread || got < 0 || got > len(list) {
		t.Fatalf("unread %d inconsistent with buffer (%d unread of %d)", got, unread, len(list))
	}
}

func TestIngestNewestFirstAndEvicts(t *testing.T) {
	p := NewProcessor(3, nil)
	for i := 1; i <= 5; i++ {
		p.Ingest(alert(fmt.Sprintf("a%d", i), 10))
		checkInvariants(t, p)
	}
	list := p.List(0)
	if len(list) != 3 || list[0].ID != "a5" || list[2].ID != "a3" {
		t.Fatalf("unexpected buffer: %+v", list)
	}
	if p.UnreadCount() != 3 {
		t.Fatalf("expected 3 unread, got %d", p.UnreadCount())
	}
	if _, ok := p.Get("a1"); ok {
		t.Fatalf("oldest entry should be evicted")
	}
	if got := p.List(2); len(got) != 2 || got[0].ID != "a5" {
		t.Fatalf("unexpected limited list: %+v", got)
	}
}

func TestDefaultCapacity(t *testing.T) {
	p := NewProcessor(0, nil)
	for i := 0; i < 60; i++ {
		p.Ingest(alert(fmt.Sprintf("a%d", i), 10))
	}
	if p.Len() != 50 || p.UnreadCount() != 50 {
		t.Fatalf("expected 50/50, got %d/%d", p.Len(), p.UnreadCount())
	}
}

func TestIngestReplacesSameID(t *testing.T) {
	p := NewProcessor(5, nil)
	p.Ingest(alert("a", 10))
	p.Ingest(alert("b", 10))
	p.Ingest(alert("a", 20))
	checkInvariants(t, p)
	list := p.List(0)
	if len(list) != 2 || list[0].ID != "a" || list[0].RiskScore != 20 || list[1].ID != "b" {
		t.Fatalf("unexpected buffer: %+v", list)
	}
	if !p.MarkAsRead("a") || p.UnreadCount() != 1 {
		t.Fatalf("expected one unread left, got %d", p.UnreadCount())
	}
}

func TestIngestNormalizes(t *testing.T) {
	p := NewProcessor(5, nil)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	got := p.Ingest(model.Alert{RiskScore: 140, Read: true})
	if got.ID == "" || !got.Timestamp.Equal(now) {
		t.Fatalf("expected id and timestamp assigned: %+v", got)
	}
	if got.RiskScore != 100 || got.Type != model.AlertFraud || got.Read {
		t.Fatalf("unexpected normalization: %+v", got)
	}
	if got.Title == "" || got.Source != SourceExternal {
		t.Fatalf("expected title and source defaults: %+v", got)
	}
	mid := p.Ingest(model.Alert{RiskScore: 55})
	low := p.Ingest(model.Alert{RiskScore: -3})
	if mid.Type != model.AlertSuspicious || low.Type != model.AlertInfo || low.RiskScore != 0 {
		t.Fatalf("unexpected classification: %s %s %v", mid.Type, low.Type, low.RiskScore)
	}
}

func TestMarkAsReadIdempotent(t *testing.T) {
	p := NewProcessor(5, nil)
	p.Ingest(alert("a", 1))
	p.Ingest(alert("b", 1))
	if !p.MarkAsRead("a") {
		t.Fatalf("expected first mark to flip")
	}
	if p.MarkAsRead("a") {
		t.Fatalf("second mark must be a no-op")
	}
	if p.MarkAsRead("missing") {
		t.Fatalf("unknown id must be a no-op")
	}
	if p.UnreadCount() != 1 {
		t.Fatalf("expected 1 unread, got %d", p.UnreadCount())
	}
	checkInvariants(t, p)
}

func TestMarkAllAndClear(t *testing.T) {
	p := NewProcessor(5, nil)
	for i := 0; i < 4; i++ {
		p.Ingest(alert(fmt.Sprintf("a%d", i), 1))
	}
	p.MarkAsRead("a1")
	if n := p.MarkAllAsRead(); n != 3 {
		t.Fatalf("expected 3 flipped, got %d", n)
	}
	if p.UnreadCount() != 0 || p.Len() != 4 {
		t.Fatalf("unexpected state after mark all: %d unread, %d len", p.UnreadCount(), p.Len())
	}
	p.Clear()
	if p.UnreadCount() != 0 || p.Len() != 0 {
		t.Fatalf("expected empty after clear")
	}
	checkInvariants(t, p)
}

func TestEvictingUnreadKeepsCountExact(t *testing.T) {
	p := NewProcessor(2, nil)
	p.Ingest(alert("a", 1))
	p.Ingest(alert("b", 1))
	p.MarkAsRead("b")
	p.Ingest(alert("c", 1))
	// "a" (unread) was evicted, leaving c unread and b read.
	if p.UnreadCount() != 1 {
		t.Fatalf("expected 1 unread, got %d", p.UnreadCount())
	}
	checkInvariants(t, p)
}

func TestSubscribersReceiveInOrder(t *testing.T) {
	p := NewProcessor(10, nil)
	var got []string
	var counts []int
	p.Subscribe(func(a model.Alert) { got = append(got, a.ID) })
	p.SubscribeUnread(func(n int) { counts = append(counts, n) })
	p.Ingest(alert("1", 1))
	p.Ingest(alert("2", 1))
	p.MarkAsRead("1")
	p.MarkAllAsRead()
	if len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("unexpected delivery order: %v", got)
	}
	want := []int{1, 2, 1, 0}
	if fmt.Sprint(counts) != fmt.Sprint(want) {
		t.Fatalf("unread notifications %v want %v", counts, want)
	}
}

func TestWatchUnreadStartsWithCurrentCount(t *testing.T) {
	p := NewProcessor(10, nil)
	p.Ingest(alert("1", 1))
	var counts []int
	sub := p.WatchUnread(func(n int) { counts = append(counts, n) })
	p.Ingest(alert("2", 1))
	p.MarkAllAsRead()
	if want := []int{1, 2, 0}; fmt.Sprint(counts) != fmt.Sprint(want) {
		t.Fatalf("unread notifications %v want %v", counts, want)
	}
	sub.Close()
	p.Ingest(alert("3", 1))
	if len(counts) != 3 {
		t.Fatalf("delivery after close: %v", counts)
	}
}

func TestUnsubscribeStopsDeliveryWithoutTouchingBuffer(t *testing.T) {
	p := NewProcessor(10, nil)
	var first, second int
	var sub2 *Subscription
	p.Subscribe(func(a model.Alert) {
		first++
		// unsubscribing the later subscriber mid-delivery takes effect immediately
		sub2.Close()
	})
	sub2 = p.Subscribe(func(a model.Alert) { second++ })
	p.Ingest(alert("1", 1))
	p.Ingest(alert("2", 1))
	if first != 2 || second != 0 {
		t.Fatalf("expected 2/0 deliveries, got %d/%d", first, second)
	}
	if sub2.Active() {
		t.Fatalf("expected subscription inactive")
	}
	if p.Len() != 2 || p.UnreadCount() != 2 {
		t.Fatalf("buffer altered by unsubscribe")
	}
}

func TestConnectStateMachine(t *testing.T) {
	p := NewProcessor(10, nil)
	if p.State() != StateDisconnected {
		t.Fatalf("expected disconnected initially")
	}
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if p.State() != StateConnected {
		t.Fatalf("expected connected, got %s", p.State())
	}
	if err := p.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
	p.Close()
	if p.State() != StateDisconnected {
		t.Fatalf("expected disconnected after close")
	}
	if err := p.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	p.Close()
}

func TestCloseDuringConnectStaysDisconnected(t *testing.T) {
	for i := 0; i < 200; i++ {
		p := NewProcessor(10, nil)
		feed, err := NewFeed(config.DefaultFeed(), registry.Default(), nil)
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		p.AttachFeed(feed)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = p.Connect(context.Background())
		}()
		go func() {
			defer wg.Done()
			p.Close()
		}()
		wg.Wait()
		if p.State() != StateDisconnected {
			t.Fatalf("iteration %d: state %s after close", i, p.State())
		}
	}
}

func TestFeedRunsAndStopsOnClose(t *testing.T) {
	cfg := config.DefaultFeed()
	cfg.Enabled = true
	cfg.MinInterval = 2 * time.Millisecond
	cfg.MaxInterval = 4 * time.Millisecond
	feed, err := NewFeed(cfg, registry.Default(), &seqRand{values: []float64{0.3, 0.6, 0.1, 0.9}})
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	p := NewProcessor(50, nil)
	p.AttachFeed(feed)
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for p.Len() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	p.Close()
	n := p.Len()
	if n < 3 {
		t.Fatalf("expected feed emissions, got %d", n)
	}
	time.Sleep(20 * time.Millisecond)
	if p.Len() != n {
		t.Fatalf("emission after close: %d -> %d", n, p.Len())
	}
	for _, a := range p.List(0) {
		if a.Source != SourceFeed || a.FromLocation == a.ToLocation {
			t.Fatalf("unexpected feed alert: %+v", a)
		}
	}
}

func TestConcurrentIngestKeepsInvariants(t *testing.T) {
	p := NewProcessor(20, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				a := p.Ingest(alert(fmt.Sprintf("%d-%d", g, i), float64(i)))
				if i%3 == 0 {
					p.MarkAsRead(a.ID)
				}
			}
		}(g)
	}
	wg.Wait()
	if p.Len() != 20 {
		t.Fatalf("expected full buffer, got %d", p.Len())
	}
	checkInvariants(t, p)
}

func TestSetCapacity(t *testing.T) {
	p := NewProcessor(10, nil)
	for i := 0; i < 10; i++ {
		p.Ingest(alert(fmt.Sprintf("a%d", i), 1))
	}
	if err := p.SetCapacity(1001); !errors.Is(err, config.ErrConfigOutOfRange) {
		t.Fatalf("expected range error, got %v", err)
	}
	if err := p.SetCapacity(4); err != nil {
		t.Fatalf("set capacity: %v", err)
	}
	if p.Len() != 4 || p.List(0)[0].ID != "a9" || p.UnreadCount() != 4 {
		t.Fatalf("unexpected buffer after shrink: %+v", p.List(0))
	}
}
