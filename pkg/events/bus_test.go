package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refNotification(id, convID int64) *Notification {
	return &Notification{Ref: &MessageRef{ID: id, ConversationID: convID, MapID: "M2kXa9BqWp3d"}}
}

func TestBusBroadcastReachesLiveSubscribers(t *testing.T) {
	bus := NewBus()

	subA, replay := bus.Subscribe("user-a", 7)
	require.Empty(t, replay)
	subB, _ := bus.Subscribe("user-b", 7)
	subOther, _ := bus.Subscribe("user-a", 8)

	bus.Broadcast(refNotification(41, 7))

	select {
	case n := <-subA.C():
		assert.EqualValues(t, 41, n.Ref.ID)
	default:
		t.Fatal("subscriber A did not receive the notification")
	}
	select {
	case n := <-subB.C():
		assert.EqualValues(t, 41, n.Ref.ID)
	default:
		t.Fatal("subscriber B did not receive the notification")
	}
	select {
	case <-subOther.C():
		t.Fatal("conversation 8 subscriber should not receive conversation 7 traffic")
	default:
	}
}

func TestBusReplayAfterDisconnect(t *testing.T) {
	bus := NewBus()

	sub, _ := bus.Subscribe("user-a", 7)
	bus.Unsubscribe(sub)

	bus.Broadcast(refNotification(1, 7))
	bus.Broadcast(refNotification(2, 7))

	_, replay := bus.Subscribe("user-a", 7)
	require.Len(t, replay, 2)
	assert.EqualValues(t, 1, replay[0].Ref.ID)
	assert.EqualValues(t, 2, replay[1].Ref.ID)
}

func TestBusReplayDrainedOnce(t *testing.T) {
	bus := NewBus()

	sub, _ := bus.Subscribe("user-a", 7)
	bus.Unsubscribe(sub)
	bus.Broadcast(refNotification(1, 7))

	_, first := bus.Subscribe("user-a", 7)
	require.Len(t, first, 1)

	_, second := bus.Subscribe("user-a", 7)
	assert.Empty(t, second)
}

func TestBusReplayScopedToUser(t *testing.T) {
	bus := NewBus()

	sub, _ := bus.Subscribe("user-a", 7)
	bus.Unsubscribe(sub)
	bus.Broadcast(refNotification(1, 7))

	_, replay := bus.Subscribe("user-b", 7)
	assert.Empty(t, replay)
}

func TestBusMissBufferCapDropsOldest(t *testing.T) {
	bus := NewBus()

	sub, _ := bus.Subscribe("user-a", 7)
	bus.Unsubscribe(sub)

	for i := int64(1); i <= missBufferCap+10; i++ {
		bus.Broadcast(refNotification(i, 7))
	}

	_, replay := bus.Subscribe("user-a", 7)
	require.Len(t, replay, missBufferCap)
	assert.EqualValues(t, 11, replay[0].Ref.ID)
	assert.EqualValues(t, missBufferCap+10, replay[len(replay)-1].Ref.ID)
}

func TestBusExpiredMissBufferDeliversNothing(t *testing.T) {
	bus := NewBus()

	sub, _ := bus.Subscribe("user-a", 7)
	bus.Unsubscribe(sub)
	bus.Broadcast(refNotification(1, 7))

	key := missKey{userID: "user-a", conversationID: 7}
	bus.mu.Lock()
	bus.missed[key].disconnectedAt = time.Now().Add(-missBufferTTL - time.Second)
	bus.mu.Unlock()

	_, replay := bus.Subscribe("user-a", 7)
	assert.Empty(t, replay)
}

func TestBusEvictExpired(t *testing.T) {
	bus := NewBus()

	sub, _ := bus.Subscribe("user-a", 7)
	bus.Unsubscribe(sub)

	bus.mu.Lock()
	bus.missed[missKey{userID: "user-a", conversationID: 7}].disconnectedAt =
		time.Now().Add(-missBufferTTL - time.Second)
	bus.mu.Unlock()

	bus.evictExpired()

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Empty(t, bus.missed)
}

func TestBusUnsubscribeRemovesLiveSubscriber(t *testing.T) {
	bus := NewBus()

	sub, _ := bus.Subscribe("user-a", 7)
	require.Equal(t, 1, bus.subscriberCount(7))

	bus.Unsubscribe(sub)
	assert.Equal(t, 0, bus.subscriberCount(7))
}

func TestBusFullQueueDropsForThatSubscriberOnly(t *testing.T) {
	bus := NewBus()

	full, _ := bus.Subscribe("user-a", 7)
	healthy, _ := bus.Subscribe("user-b", 7)

	for i := 0; i < subscriberQueueSize+5; i++ {
		bus.Broadcast(refNotification(int64(i+1), 7))
		// Drain the healthy subscriber so only the other queue fills.
		<-healthy.C()
	}

	assert.Len(t, full.queue, subscriberQueueSize)
}

func TestParseNotificationReference(t *testing.T) {
	n, err := ParseNotification([]byte(`{"id": 12, "conversation_id": 3, "map_id": "M2kXa9BqWp3d"}`))
	require.NoError(t, err)
	require.NotNil(t, n.Ref)
	assert.Nil(t, n.Ephemeral)
	assert.EqualValues(t, 12, n.Ref.ID)
	assert.EqualValues(t, 3, n.Ref.ConversationID)
	assert.Equal(t, "M2kXa9BqWp3d", n.Ref.MapID)
}

func TestParseNotificationEphemeral(t *testing.T) {
	payload := []byte(`{
		"ephemeral": true,
		"conversation_id": 3,
		"action_id": "a-1",
		"action": "Kue is thinking...",
		"status": "active",
		"completed_at": null,
		"updates": {"style_json": false}
	}`)
	n, err := ParseNotification(payload)
	require.NoError(t, err)
	require.NotNil(t, n.Ephemeral)
	assert.Nil(t, n.Ref)
	assert.Equal(t, StatusActive, n.Ephemeral.Status)
	assert.Equal(t, "Kue is thinking...", n.Ephemeral.Action)
	assert.EqualValues(t, 3, n.conversationID())
}

func TestParseNotificationRejectsGarbage(t *testing.T) {
	_, err := ParseNotification([]byte("not json"))
	assert.Error(t, err)

	_, err = ParseNotification([]byte(`{"conversation_id": 3}`))
	assert.Error(t, err, "reference payload without an id is rejected")
}

func TestHandleNotifyBroadcastsParsedPayload(t *testing.T) {
	bus := NewBus()
	sub, _ := bus.Subscribe("user-a", 3)

	bus.HandleNotify([]byte(`{"id": 9, "conversation_id": 3, "map_id": "M2kXa9BqWp3d"}`))

	select {
	case n := <-sub.C():
		assert.EqualValues(t, 9, n.Ref.ID)
	default:
		t.Fatal("expected the parsed notification to be broadcast")
	}

	// Malformed payloads are dropped without panicking.
	bus.HandleNotify([]byte("{"))
	select {
	case <-sub.C():
		t.Fatal("malformed payload should not be broadcast")
	default:
	}
}
