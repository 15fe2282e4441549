package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusDeliversToEverySubscriber(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	first, unsubscribeFirst := bus.Subscribe()
	second, unsubscribeSecond := bus.Subscribe()
	defer unsubscribeSecond()

	bus.Publish(New(TypeBatchCompleted, map[string]int{"succeeded": 3}))

	require.Equal(t, TypeBatchCompleted, (<-first).Type)
	require.Equal(t, TypeBatchCompleted, (<-second).Type)

	unsubscribeFirst()
	_, open := <-first
	require.False(t, open)
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	_, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for i := 0; i < 300; i++ {
		bus.Publish(New(TypeItemProgress, i))
	}
	require.Equal(t, int64(300-256), bus.Dropped())
}

func TestPublishToNilBus(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() { Publish(nil, TypeJobQueued, nil) })
}
