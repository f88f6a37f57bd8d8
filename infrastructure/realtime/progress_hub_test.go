package realtime

import (
	"testing"

	"crosspost/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcast_DeliversToOwningUserOnly(t *testing.T) {
	hub := NewProgressHub()
	mine := make(chan model.JobSnapshot, 16)
	theirs := make(chan model.JobSnapshot, 16)
	hub.addSubscriber("user-1", mine)
	hub.addSubscriber("user-2", theirs)

	hub.Broadcast("user-1", model.JobSnapshot{Platform: "youtube", State: model.JobUploading, Progress: 40})

	require.Len(t, mine, 1)
	snap := <-mine
	assert.Equal(t, "youtube", snap.Platform)
	assert.Equal(t, model.JobUploading, snap.State)
	assert.Len(t, theirs, 0)
}

func TestBroadcast_DropsForSlowConsumer(t *testing.T) {
	hub := NewProgressHub()
	slow := make(chan model.JobSnapshot, 1)
	hub.addSubscriber("user-1", slow)

	// Fill the buffer; the second broadcast must not block.
	hub.Broadcast("user-1", model.JobSnapshot{Progress: 10})
	hub.Broadcast("user-1", model.JobSnapshot{Progress: 20})

	require.Len(t, slow, 1)
	assert.Equal(t, 10.0, (<-slow).Progress)
}

func TestRemoveSubscriber_ClosesChannel(t *testing.T) {
	hub := NewProgressHub()
	ch := make(chan model.JobSnapshot, 1)
	hub.addSubscriber("user-1", ch)
	hub.removeSubscriber("user-1", ch)

	_, open := <-ch
	assert.False(t, open)

	// Broadcasting after removal is a no-op, not a panic on a closed channel.
	hub.Broadcast("user-1", model.JobSnapshot{Progress: 50})
}
