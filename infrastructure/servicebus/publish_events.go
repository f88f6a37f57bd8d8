package servicebus

import (
	"context"
	"encoding/json"
	"time"

	"crosspost/domain/dto"
	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/logger"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

// OutcomeNotifier mirrors the outcome aggregate onto an Azure Service Bus
// queue. Nil-client tolerant like its Pub/Sub sibling.
type OutcomeNotifier struct {
	client *azservicebus.Client
	queue  string
}

func NewOutcomeNotifier(client *azservicebus.Client, queue string) *OutcomeNotifier {
	return &OutcomeNotifier{client: client, queue: queue}
}

// NewServiceBusClient connects with the default Azure credential chain; empty
// config yields a nil client.
func NewServiceBusClient() *azservicebus.Client {
	cfg := configuration.C.ServiceBus
	if cfg.Namespace == "" {
		return nil
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("azure credential unavailable, service bus events disabled")
		return nil
	}
	client, err := azservicebus.NewClient(cfg.Namespace, cred, nil)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("service bus unavailable, outcome events disabled")
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

	sender, err := n.client.NewSender(n.queue, nil)
	if err != nil {
		logger.GetLogger().
			WithField("error", err).
			Error("Error while making new sender service bus.")
		return err
	}
	defer func(sender *azservicebus.Sender, ctx context.Context) {
		if err := sender.Close(ctx); err != nil {
			logger.GetLogger().
				WithField("error", err).
				Error("Error while closing sender.")
		}
	}(sender, ctx)

	if err := sender.SendMessage(ctx, &azservicebus.Message{Body: payload}, nil); err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while sending message.")
		return err
	}
	return nil
}
