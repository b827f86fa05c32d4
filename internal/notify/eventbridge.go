package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/safesite-pipeline/internal/store"
)

// EventBridge envelope fields for outlier events.
const (
	EventSource     = "safesite-pipeline"
	EventDetailType = "OutlierEvent"
)

// EventBridgeAPI is the subset of the EventBridge client used here.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeEmitter puts each outlier event on a bus.
type EventBridgeEmitter struct {
	client  EventBridgeAPI
	busName string
}

var _ Emitter = (*EventBridgeEmitter)(nil)

// NewEventBridgeEmitter binds a client to a bus.
func NewEventBridgeEmitter(client EventBridgeAPI, busName string) *EventBridgeEmitter {
	return &EventBridgeEmitter{client: client, busName: busName}
}

// Emit sends event as the detail of one PutEvents entry.
func (e *EventBridgeEmitter) Emit(ctx context.Context, event *store.OutlierEvent) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal OutlierEvent: %w", err)
	}

	result, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{
			{
				EventBusName: aws.String(e.busName),
				Source:       aws.String(EventSource),
				DetailType:   aws.String(EventDetailType),
				Detail:       aws.String(string(detail)),
			},
		},
	})
	if err != nil {
		log.Error().Err(err).Str("eventId", event.EventID).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(entry.ErrorCode)).
					Str("errorMessage", aws.ToString(entry.ErrorMessage)).
					Str("eventId", event.EventID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}

	log.Debug().Str("eventId", event.EventID).Str("bus", e.busName).Msg("OutlierEvent emitted to EventBridge")
	return nil
}
