package memory

import (
	"sync"

	"github.com/qrave1/RoomMesh/internal/application/metric"
	"github.com/qrave1/RoomMesh/internal/domain/events"
)

// Sender - исходящая очередь websocket соединения
type Sender interface {
	// Send ставит событие в очередь. false - очередь переполнена или соединение закрыто
	Send(events.Event) bool
}

// WebsocketConnectionRepository интерфейс для работы с активными соединениями в памяти
type WebsocketConnectionRepository interface {
	Add(connectionID string, s Sender)
	Remove(connectionID string)

	// Write - false, если соединения нет или событие не поместилось в очередь
	Write(connectionID string, ev events.Event) bool
	Exists(connectionID string) bool
	Count() int
}

type wsConnectionRepository struct {
	// wsConns хранит map[connection_id]Sender
	wsConns map[string]Sender

	mu sync.RWMutex
}

func NewWSConnectionRepository() WebsocketConnectionRepository {
	return &wsConnectionRepository{
		wsConns: make(map[string]Sender, 10),
	}
}

func (w *wsConnectionRepository) Add(connectionID string, s Sender) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.wsConns[connectionID]; !exists {
		// Увеличиваем счетчик активных WS соединений
		metric.IncrementWSActiveConnections()
	}

	w.wsConns[connectionID] = s
}

func (w *wsConnectionRepository) Remove(connectionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Проверяем, существует ли соединение перед удалением
	if _, exists := w.wsConns[connectionID]; exists {
		delete(w.wsConns, connectionID)

		metric.DecrementWSActiveConnections()
	}
}

func (w *wsConnectionRepository) Write(connectionID string, ev events.Event) bool {
	s, ok := w.get(connectionID)
	if !ok {
		return false
	}

	return s.Send(ev)
}

func (w *wsConnectionRepository) Exists(connectionID string) bool {
	_, ok := w.get(connectionID)

	return ok
}

func (w *wsConnectionRepository) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return len(w.wsConns)
}

func (w *wsConnectionRepository) get(connectionID string) (Sender, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s, ok := w.wsConns[connectionID]

	return s, ok
}
