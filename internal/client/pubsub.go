package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubClient publishes history events to one Google Cloud Pub/Sub topic.
type PubSubClient struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubClient connects to projectID and checks that topicID exists.
// Events are published one at a time, so batching is capped at a short delay.
func NewPubSubClient(ctx context.Context, projectID, topicID string) (*PubSubClient, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	topic.PublishSettings.DelayThreshold = 50 * time.Millisecond
	topic.PublishSettings.CountThreshold = 10

	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to look up topic %s: %w", topicID, err)
	}
	if !exists {
		client.Close()
		return nil, fmt.Errorf("topic %s does not exist in project %s", topicID, projectID)
	}

	return &PubSubClient{client: client, topic: topic}, nil
}

// Ping reports whether the topic is still reachable.
func (c *PubSubClient) Ping(ctx context.Context) error {
	exists, err := c.topic.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("topic %s is gone", c.topic.ID())
	}
	return nil
}

// Close flushes queued messages and closes the client.
func (c *PubSubClient) Close() {
	c.topic.Stop()
	c.client.Close()
}

// Publish sends data as JSON with attrs and blocks until the broker acks it.
func (c *PubSubClient) Publish(ctx context.Context, data interface{}, attrs map[string]string) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = c.topic.Publish(ctx, &pubsub.Message{Data: body, Attributes: attrs}).Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", c.topic.ID(), err)
	}
	return nil
}
