package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEmitDeliversToSubscribers(t *testing.T) {
	b := NewBus()

	got := make(chan any, 1)
	b.Subscribe(TopicSceneActive, func(payload any) {
		got <- payload
	})

	b.Emit(TopicSceneActive, "scene-1")

	select {
	case payload := <-got:
		assert.Equal(t, "scene-1", payload)
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestEmitIgnoresOtherTopics(t *testing.T) {
	b := NewBus()

	called := make(chan struct{}, 1)
	b.Subscribe(TopicSceneActive, func(any) {
		called <- struct{}{}
	})

	b.Emit(TopicScanProgress, nil)

	select {
	case <-called:
		t.Fatal("handler ran for a different topic")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()

	var (
		mu    sync.Mutex
		calls int
	)
	unsub := b.Subscribe(TopicCameraState, func(any) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	b.Emit(TopicCameraState, true)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 5*time.Millisecond)

	unsub()
	b.Emit(TopicCameraState, false)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestNoReplayForLateSubscribers(t *testing.T) {
	b := NewBus()
	b.Emit(TopicMonitoring, true)

	called := make(chan struct{}, 1)
	b.Subscribe(TopicMonitoring, func(any) {
		called <- struct{}{}
	})

	select {
	case <-called:
		t.Fatal("late subscriber received an old event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitDoesNotBlockOnSlowHandler(t *testing.T) {
	b := NewBus()

	release := make(chan struct{})
	b.Subscribe(TopicScanProgress, func(any) {
		<-release
	})
	defer close(release)

	start := time.Now()
	b.Emit(TopicScanProgress, nil)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
