package correlator

import (
	"context"
	"encoding/json"
	"errors"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/fieldreport_backend/config"
)

// DeadLetterPublisher receives per-call attempts that failed for a reason a
// later retry may fix.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, msg DeadLetterMessage) error
}

type PubSubDeadLetter struct {
	topic *pubsub.Topic
}

// NewPubSubDeadLetter uses topicName, creating it when create is set.
func NewPubSubDeadLetter(ctx context.Context, client *pubsub.Client, topicName string, create bool) (*PubSubDeadLetter, error) {
	if client == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if topicName == "" {
		return nil, errors.New("dead letter topic is required")
	}
	topic := client.Topic(topicName)
	if create {
		var err error
		topic, err = config.CreateTopicIfNotExists(ctx, client, topicName)
		if err != nil {
			return nil, err
		}
	}
	return &PubSubDeadLetter{topic: topic}, nil
}

func (p *PubSubDeadLetter) Publish(ctx context.Context, msg DeadLetterMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"call_id": msg.CallId,
			"stage":   msg.Stage,
		},
	})
	_, err = res.Get(ctx)
	return err
}

// Stop flushes pending publishes.
func (p *PubSubDeadLetter) Stop() {
	p.topic.Stop()
}
