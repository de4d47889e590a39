package handlers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/counseling-records/backend/internal/config"
	"github.com/counseling-records/backend/internal/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// captureSubscriber hands the registered handlers back to the test so it can
// drive both streams itself.
type captureSubscriber struct {
	mu       sync.Mutex
	handlers map[string]func(events.Event)
}

func newCaptureSubscriber() *captureSubscriber {
	return &captureSubscriber{handlers: make(map[string]func(events.Event))}
}

func (s *captureSubscriber) Subscribe(_ context.Context, stream string, handler func(events.Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[stream] = handler
	return nil
}

// overlapWriter fails the test when two WriteMessage calls overlap, which is
// what the real websocket conn rejects.
type overlapWriter struct {
	inFlight atomic.Int32
	overlaps atomic.Int32
	writes   atomic.Int32
}

func (w *overlapWriter) WriteMessage(_ int, _ []byte) error {
	if w.inFlight.Add(1) > 1 {
		w.overlaps.Add(1)
	}
	w.writes.Add(1)
	w.inFlight.Add(-1)
	return nil
}

func TestWSHubSerializesWritesAcrossStreams(t *testing.T) {
	hub := NewWSHub(&config.Config{}, newCaptureSubscriber(), zap.NewNop())
	sub := hub.subscriber.(*captureSubscriber)
	hub.Start(context.Background())

	writer := &overlapWriter{}
	hub.register(uuid.New(), &wsClient{conn: writer})

	lockHandler := sub.handlers[events.StreamLock]
	recordHandler := sub.handlers[events.StreamRecord]
	if lockHandler == nil || recordHandler == nil {
		t.Fatal("hub did not subscribe both streams")
	}

	// A gated update publishes on the record stream while lock events land on
	// the lock stream; each stream delivers from its own goroutine.
	const perStream = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < perStream; i++ {
			lockHandler(events.Event{Type: events.EventRecordLocked})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perStream; i++ {
			recordHandler(events.Event{Type: events.EventRecordUpdated})
		}
	}()
	wg.Wait()

	if n := writer.overlaps.Load(); n != 0 {
		t.Fatalf("observed %d overlapping writes to one connection", n)
	}
	if n := writer.writes.Load(); n != 2*perStream {
		t.Errorf("writes = %d, want %d", n, 2*perStream)
	}
}

func TestWSHubUnregisterRemovesConnection(t *testing.T) {
	hub := NewWSHub(&config.Config{}, newCaptureSubscriber(), zap.NewNop())
	userID := uuid.New()
	a := &wsClient{conn: &overlapWriter{}}
	b := &wsClient{conn: &overlapWriter{}}

	hub.register(userID, a)
	hub.register(userID, b)
	hub.unregister(userID, a)

	hub.mu.RLock()
	clients := hub.connections[userID]
	hub.mu.RUnlock()
	if len(clients) != 1 || clients[0] != b {
		t.Fatalf("connections after unregister = %v, want just the second client", clients)
	}

	hub.unregister(userID, b)
	hub.mu.RLock()
	_, ok := hub.connections[userID]
	hub.mu.RUnlock()
	if ok {
		t.Error("user entry not removed after last connection closed")
	}
}
