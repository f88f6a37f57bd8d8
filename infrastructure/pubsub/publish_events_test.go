package pubsub

import (
	"context"
	"testing"

	"crosspost/domain/dto"

	"github.com/stretchr/testify/assert"
)

func TestNewOutcomeNotifier(t *testing.T) {
	notifier := NewOutcomeNotifier(nil, "publish-outcomes")
	assert.NotNil(t, notifier)
}

func TestNotifyOutcome_NoopWithoutClient(t *testing.T) {
	notifier := NewOutcomeNotifier(nil, "publish-outcomes")
	err := notifier.NotifyOutcome(context.Background(), "user-1", []dto.DestinationResult{
		{Platform: "youtube", Success: true, ResultID: "vid-1"},
	})
	assert.NoError(t, err)
}
