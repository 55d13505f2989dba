package events

import "sync"

// Topics emitted by the core. Delivery is fire-and-forget, at-most-once,
// with no replay for late subscribers.
const (
	TopicScanProgress = "scan:progress"
	TopicSceneActive  = "scene:active"
	TopicCameraState  = "camera:state"
	TopicMonitoring   = "monitoring:state"
)

type Handler func(payload any)

// Bus is a minimal in-process pub/sub fan-out. Emit never blocks the
// caller: each handler runs on its own goroutine.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]Handler
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]map[int]Handler),
	}
}

// Subscribe registers a handler for a topic and returns an unsubscribe
// function. Events emitted before subscription are not replayed.
func (b *Bus) Subscribe(topic string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.next
	b.next++
	b.subs[topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

func (b *Bus) Emit(topic string, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		go h(payload)
	}
}
