package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"crosspost/domain/dto"
	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/logger"

	"cloud.google.com/go/pubsub"
)

// OutcomeNotifier publishes per-post outcome aggregates to a Pub/Sub topic.
// Nil-client tolerant: without a client every notification is a no-op.
type OutcomeNotifier struct {
	client *pubsub.Client
	topic  string
}

func NewOutcomeNotifier(client *pubsub.Client, topic string) *OutcomeNotifier {
	return &OutcomeNotifier{client: client, topic: topic}
}

// NewPubSubClient connects using the configured project; empty config yields a
// nil client.
func NewPubSubClient(ctx context.Context) *pubsub.Client {
	cfg := configuration.C.Pubsub
	if cfg.ProjectID == "" {
		return nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("pubsub unavailable, outcome events disabled")
		return nil
	}
	return client
}

type outcomeEvent struct {
	UserID    string                  `json:"userId"`
	Results   []dto.DestinationResult `json:"results"`
	EmittedAt time.Time               `json:"emittedAt"`
}

func (n *OutcomeNotifier) NotifyOutcome(ctx context.Context, userID string, results []dto.DestinationResult) error {
	if n == nil || n.client == nil {
		return nil
	}
	payload, err := json.Marshal(outcomeEvent{UserID: userID, Results: results, EmittedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	topic := n.client.Topic(n.topic)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		logger.GetLogger().WithField("topic", n.topic).Info("Topic doesn't exist - creating it")
		if _, err := n.client.CreateTopic(ctx, n.topic); err != nil {
			return err
		}
		topic = n.client.Topic(n.topic)
	}

	serverID, err := topic.Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
	if err != nil {
		return err
	}
	logger.GetLogger().WithField("server ID", serverID).Info("Outcome event published")
	return nil
}
