package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/prepbolt/apiserver/types"
)

// EventPublisher sends committed challenge events to a broker channel as
// JSON. Events of one challenge share an ordering key.
type EventPublisher struct {
	mq      *MQ
	channel string
}

func NewEventPublisher(m *MQ, channel string) *EventPublisher {
	return &EventPublisher{mq: m, channel: channel}
}

func (p *EventPublisher) Publish(ctx context.Context, event types.ChallengeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	challengeID := strconv.Itoa(event.ChallengeID)
	attrs := map[string]string{
		AttrContentType: "application/json",
		AttrEventType:   string(event.Type),
		AttrChallengeID: challengeID,
		AttrOrderingKey: "challenge-" + challengeID,
	}
	if _, err := p.mq.Publish(ctx, p.channel, data, attrs); err != nil {
		return fmt.Errorf("publish %s for challenge %d: %w", event.Type, event.ChallengeID, err)
	}
	return nil
}

// SubscribeEvents decodes challenge events from channel and hands them to fn.
// Messages that do not decode are acknowledged and dropped.
func SubscribeEvents(ctx context.Context, m *MQ, channel string, fn func(context.Context, types.ChallengeEvent) error) error {
	return m.Subscribe(ctx, channel, func(ctx context.Context, msg Message) error {
		event, err := DecodeEvent(msg)
		if err != nil {
			return nil
		}
		return fn(ctx, event)
	})
}

// DecodeEvent parses a message produced by EventPublisher.
func DecodeEvent(msg Message) (types.ChallengeEvent, error) {
	var event types.ChallengeEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return types.ChallengeEvent{}, fmt.Errorf("decode challenge event %s: %w", msg.ID, err)
	}
	return event, nil
}
