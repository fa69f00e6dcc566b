package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"politikcred/internal/platform/config"
)

// Client wraps a franz-go producer bound to the pipeline topic.
type Client struct {
	cl    *kgo.Client
	topic string
}

// New creates a producer. Returns nil if no brokers are configured.
func New(cfg config.Kafka) (*Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Client{cl: cl, topic: cfg.Topic}, nil
}

// Health pings the cluster.
func (c *Client) Health(ctx context.Context) error {
	return c.cl.Ping(ctx)
}

// EnsureTopic creates the pipeline topic if it does not exist yet.
func (c *Client) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(c.cl)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, c.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", c.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Publish writes one record synchronously.
func (c *Client) Publish(ctx context.Context, key string, value []byte) error {
	rec := &kgo.Record{Topic: c.topic, Key: []byte(key), Value: value}
	if err := c.cl.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", c.topic, err)
	}
	return nil
}

func (c *Client) Topic() string {
	return c.topic
}

// Close flushes and closes the producer.
func (c *Client) Close() {
	c.cl.Close()
}
