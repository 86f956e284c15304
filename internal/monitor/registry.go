package monitor

import (
	"sort"
	"sync"

	"github.com/kirillm/signal-trader/internal/domain"
)

// Registry открытые позиции, которые ведет бот. Наружу отдаются только копии,
// изменения идут через Update одним шагом под блокировкой.
type Registry struct {
	mu        sync.RWMutex
	positions map[domain.PositionKey]*domain.PositionRecord
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{positions: make(map[domain.PositionKey]*domain.PositionRecord)}
}

// Register добавляет или заменяет запись
func (r *Registry) Register(rec *domain.PositionRecord) {
	r.mu.Lock()
	r.positions[rec.Key()] = rec.Clone()
	r.mu.Unlock()
}

// Get копия записи
func (r *Registry) Get(key domain.PositionKey) (*domain.PositionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.positions[key]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Has есть ли запись
func (r *Registry) Has(key domain.PositionKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.positions[key]
	return ok
}

// Remove удаляет запись и возвращает ее последнее состояние
func (r *Registry) Remove(key domain.PositionKey) (*domain.PositionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.positions[key]
	if !ok {
		return nil, false
	}
	delete(r.positions, key)
	return rec, true
}

// Update применяет fn к записи под блокировкой. false если записи нет.
func (r *Registry) Update(key domain.PositionKey, fn func(*domain.PositionRecord)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.positions[key]
	if !ok {
		return false
	}
	fn(rec)
	return true
}

// Snapshot копии всех записей, отсортированные по аккаунту и символу
func (r *Registry) Snapshot() []*domain.PositionRecord {
	r.mu.RLock()
	out := make([]*domain.PositionRecord, 0, len(r.positions))
	for _, rec := range r.positions {
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// ForAccount копии записей одного аккаунта
func (r *Registry) ForAccount(account string) []*domain.PositionRecord {
	var out []*domain.PositionRecord
	for _, rec := range r.Snapshot() {
		if rec.Account == account {
			out = append(out, rec)
		}
	}
	return out
}

// Len число записей
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions)
}
