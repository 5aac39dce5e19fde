package chatmemory

import (
	"context"
	"sync"
	"time"

	"inkwell/internal/model"
)

// MemoryWindow is an in-process WindowCache for single-instance deployments and tests.
type MemoryWindow struct {
	mu      sync.Mutex
	windows map[string][]model.ChatMessage
}

func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{windows: make(map[string][]model.ChatMessage)}
}

func (w *MemoryWindow) Push(_ context.Context, tenantID, chatID string, msg model.ChatMessage, limit int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := chatKey(tenantID, chatID)
	ring, ok := w.windows[key]
	if !ok {
		return nil
	}
	ring = append(ring, msg)
	if limit > 0 && len(ring) > limit {
		ring = append([]model.ChatMessage(nil), ring[len(ring)-limit:]...)
	}
	w.windows[key] = ring
	return nil
}

func (w *MemoryWindow) Window(_ context.Context, tenantID, chatID string) ([]model.ChatMessage, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ring, ok := w.windows[chatKey(tenantID, chatID)]
	if !ok {
		return nil, false, nil
	}
	return append([]model.ChatMessage(nil), ring...), true, nil
}

func (w *MemoryWindow) Reset(_ context.Context, tenantID, chatID string, messages []model.ChatMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.windows[chatKey(tenantID, chatID)] = append(make([]model.ChatMessage, 0, len(messages)), messages...)
	return nil
}

func (w *MemoryWindow) Invalidate(_ context.Context, tenantID, chatID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.windows, chatKey(tenantID, chatID))
	return nil
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time)}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if until, ok := l.held[key]; ok && time.Now().Before(until) {
		return nil, false, nil
	}
	until := time.Now().Add(ttl)
	l.held[key] = until
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(until) {
			delete(l.held, key)
		}
	}, true, nil
}
