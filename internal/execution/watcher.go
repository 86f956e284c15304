package execution

import (
	"context"
	"sync"
	"time"
)

// WatcherSet фоновые задачи с ограниченным временем жизни.
// Shutdown отменяет все задачи и ждет их завершения.
type WatcherSet struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	cancels map[uint64]context.CancelFunc
	next    uint64
	closed  bool
}

// NewWatcherSet создает пустой набор
func NewWatcherSet() *WatcherSet {
	return &WatcherSet{cancels: make(map[uint64]context.CancelFunc)}
}

// Spawn запускает fn с контекстом, который истекает через timeout.
// После Shutdown новые задачи не запускаются.
func (w *WatcherSet) Spawn(timeout time.Duration, fn func(ctx context.Context)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	id := w.next
	w.next++
	w.cancels[id] = cancel
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		defer w.release(id)
		fn(ctx)
	}()
	return true
}

func (w *WatcherSet) release(id uint64) {
	w.mu.Lock()
	if cancel, ok := w.cancels[id]; ok {
		cancel()
		delete(w.cancels, id)
	}
	w.mu.Unlock()
}

// Len число активных задач
func (w *WatcherSet) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.cancels)
}

// Shutdown отменяет задачи и ждет их выхода
func (w *WatcherSet) Shutdown() {
	w.mu.Lock()
	w.closed = true
	for _, cancel := range w.cancels {
		cancel()
	}
	w.mu.Unlock()

	w.wg.Wait()
}
