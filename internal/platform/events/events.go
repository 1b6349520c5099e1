// Package events publishes tree commit notifications so downstream verifiers
// can refresh the roots they accept.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// TreeCommitted is emitted after a new root is saved for a group.
type TreeCommitted struct {
	GroupID     string    `json:"group_id"`
	GroupName   string    `json:"group_name"`
	TreeID      string    `json:"tree_id"`
	MerkleRoot  string    `json:"merkle_root"`
	BlockNumber uint64    `json:"block_number"`
	LeafCount   int       `json:"leaf_count"`
	CommittedAt time.Time `json:"committed_at"`
}

// Publisher delivers TreeCommitted events.
type Publisher interface {
	PublishTreeCommitted(ctx context.Context, event TreeCommitted) error
}

// Nop drops every event. Used when no brokers are configured.
type Nop struct{}

func (Nop) PublishTreeCommitted(context.Context, TreeCommitted) error { return nil }

// KafkaPublisher produces events to a single topic, keyed by group id so a
// group's commits stay ordered within one partition.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// NewKafka connects a producer to brokers.
func NewKafka(brokers []string, topic string, opts ...kgo.Opt) (*KafkaPublisher, error) {
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RecordRetries(5),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic}, nil
}

func (p *KafkaPublisher) PublishTreeCommitted(ctx context.Context, event TreeCommitted) error {
	record, err := newRecord(p.topic, event)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce tree committed: %w", err)
	}
	return nil
}

// Ping checks broker connectivity.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}

func newRecord(topic string, event TreeCommitted) (*kgo.Record, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal tree committed: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(event.GroupID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte("tree_committed")},
		},
	}, nil
}
