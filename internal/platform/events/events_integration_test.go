//go:build integration

package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"creddd/internal/platform/events"
	"creddd/pkg/testutil/containers"
)

type KafkaPublisherSuite struct {
	suite.Suite
	redpanda  *containers.RedpandaContainer
	publisher *events.KafkaPublisher
}

func TestKafkaPublisherSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaPublisherSuite))
}

func (s *KafkaPublisherSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redpanda = mgr.GetRedpanda(s.T())
	publisher, err := events.NewKafka(s.redpanda.Brokers, "tree-commits", kgo.AllowAutoTopicCreation())
	s.Require().NoError(err)
	s.publisher = publisher
}

func (s *KafkaPublisherSuite) TearDownSuite() {
	if s.publisher != nil {
		s.publisher.Close()
	}
}

func (s *KafkaPublisherSuite) TestPublishedEventIsConsumable() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.Require().NoError(s.publisher.Ping(ctx))

	event := events.TreeCommitted{
		GroupID:     "0x00000000000000000000000000000000000000000000000000000000000000aa",
		GroupName:   "Dai whales",
		MerkleRoot:  "0xabc",
		BlockNumber: 42,
		LeafCount:   3,
		CommittedAt: time.Now().UTC(),
	}
	s.Require().NoError(s.publisher.PublishTreeCommitted(ctx, event))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics("tree-commits"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().Empty(fetches.Errors())

	var got events.TreeCommitted
	records := fetches.Records()
	s.Require().NotEmpty(records)
	s.Equal(event.GroupID, string(records[0].Key))
	s.Require().NoError(json.Unmarshal(records[0].Value, &got))
	s.Equal(event.MerkleRoot, got.MerkleRoot)
	s.Equal(event.BlockNumber, got.BlockNumber)
}
