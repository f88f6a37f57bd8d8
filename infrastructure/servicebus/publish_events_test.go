package servicebus

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
		{Platform: "x", Success: false, Error: "processing failed"},
	})
	assert.NoError(t, err)
}
