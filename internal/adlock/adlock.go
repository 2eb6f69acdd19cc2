// Package adlock реализует краткоживущую фиксацию рекламного ролика за посетителем.
//
// Фиксация гарантирует, что повторные запросы одного посетителя в пределах TTL
// возвращают один и тот же случайно выбранный ролик: перезагрузка страницы не
// меняет ролик под пользователем в середине просмотра.
package adlock

import (
	"context"
	"sync"
	"time"

	"github.com/mmeshcher/topup-store/internal/model"
)

// Locker описывает контракт хранилища фиксаций с временем жизни.
// Get возвращает nil без ошибки, если фиксации нет или она истекла.
type Locker interface {
	Get(ctx context.Context, visitorKey string) (*model.Ad, error)
	Set(ctx context.Context, visitorKey string, ad *model.Ad, ttl time.Duration) error
}

type memoryEntry struct {
	ad      model.Ad
	expires time.Time
}

// Memory — хранилище фиксаций в памяти процесса.
// Подходит для одного экземпляра сервиса; при нескольких экземплярах
// используется реализация поверх Redis.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory создаёт пустое хранилище фиксаций в памяти.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get возвращает зафиксированный ролик посетителя.
// Истёкшая запись удаляется при чтении.
func (m *Memory) Get(_ context.Context, visitorKey string) (*model.Ad, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[visitorKey]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, visitorKey)
		return nil, nil
	}

	ad := e.ad
	return &ad, nil
}

// Set фиксирует ролик за посетителем на время ttl.
// Повторная запись по тому же ключу замещает предыдущую.
func (m *Memory) Set(_ context.Context, visitorKey string, ad *model.Ad, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[visitorKey] = memoryEntry{
		ad:      *ad,
		expires: m.now().Add(ttl),
	}
	return nil
}
