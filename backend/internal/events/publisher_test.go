package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockPublisher(t *testing.T, setup func(p *mocks.SyncProducer)) (*KafkaPublisher, *int) {
	t.Helper()
	opened := 0
	pub := NewKafkaPublisher(KafkaOptions{
		Brokers: []string{"kafka:29092"},
		Factory: func(brokers []string, cfg *sarama.Config) (sarama.SyncProducer, error) {
			opened++
			assert.Equal(t, DefaultClientID, cfg.ClientID)
			p := mocks.NewSyncProducer(t, cfg)
			setup(p)
			return p, nil
		},
	})
	return pub, &opened
}

func keyedBy(topic, docID string) mocks.MessageChecker {
	return func(msg *sarama.ProducerMessage) error {
		if msg.Topic != topic {
			return fmt.Errorf("topic %q, want %q", msg.Topic, topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != docID {
			return fmt.Errorf("key %q, want %q", key, docID)
		}
		return nil
	}
}

func TestKafkaPublisher_PublishOperation(t *testing.T) {
	pub, opened := mockPublisher(t, func(p *mocks.SyncProducer) {
		p.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(keyedBy(TopicOperations, "doc-1"))
		p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			var rec OperationRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			if rec.Type != OpUpdate || rec.Version != 4 {
				return fmt.Errorf("unexpected record %+v", rec)
			}
			return nil
		})
	})
	ctx := context.Background()

	require.NoError(t, pub.Connect(ctx))
	require.NoError(t, pub.Connect(ctx))
	require.NoError(t, pub.PublishOperation(ctx, OperationRecord{Type: OpUpdate, DocumentID: "doc-1", Version: 3}))
	require.NoError(t, pub.PublishOperation(ctx, OperationRecord{Type: OpUpdate, DocumentID: "doc-1", Version: 4}))
	assert.Equal(t, 1, *opened)
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_PublishEventConnectsLazily(t *testing.T) {
	pub, opened := mockPublisher(t, func(p *mocks.SyncProducer) {
		p.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(keyedBy(TopicEvents, "doc-9"))
	})
	require.NoError(t, pub.PublishEvent(context.Background(), DocumentEvent{Type: EventUserJoin, DocumentID: "doc-9"}))
	assert.Equal(t, 1, *opened)
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_SendFailurePropagates(t *testing.T) {
	boom := errors.New("broker unavailable")
	pub, _ := mockPublisher(t, func(p *mocks.SyncProducer) {
		p.ExpectSendMessageAndFail(boom)
	})
	err := pub.PublishEvent(context.Background(), DocumentEvent{Type: EventUserLeave, DocumentID: "d"})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_ConnectFailure(t *testing.T) {
	pub := NewKafkaPublisher(KafkaOptions{
		Factory: func([]string, *sarama.Config) (sarama.SyncProducer, error) {
			return nil, sarama.ErrOutOfBrokers
		},
	})
	assert.ErrorIs(t, pub.PublishOperation(context.Background(), OperationRecord{DocumentID: "d"}), sarama.ErrOutOfBrokers)
}

func TestKafkaPublisher_Closed(t *testing.T) {
	pub, opened := mockPublisher(t, func(p *mocks.SyncProducer) {})
	require.NoError(t, pub.Close())
	assert.ErrorIs(t, pub.Connect(context.Background()), ErrPublisherClosed)
	assert.Equal(t, 0, *opened)
}
