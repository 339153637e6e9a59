package worker

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"
)

func NewConsumerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	return cfg
}

// Runner drives a consumer group over both topics, one message at a time per
// claimed partition.
type Runner struct {
	group sarama.ConsumerGroup
	rec   *Reconciler
}

func NewRunner(group sarama.ConsumerGroup, rec *Reconciler) *Runner {
	return &Runner{group: group, rec: rec}
}

// Run consumes until ctx is cancelled or the group is closed.
func (r *Runner) Run(ctx context.Context) error {
	go func() {
		for err := range r.group.Errors() {
			log.Error().Err(err).Msg("consumer group error")
		}
	}()

	handler := &consumerHandler{rec: r.rec}
	topics := r.rec.Topics()
	for {
		if err := r.group.Consume(ctx, topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *Runner) Close() error {
	return r.group.Close()
}

type consumerHandler struct {
	rec *Reconciler
}

func (h *consumerHandler) Setup(sess sarama.ConsumerGroupSession) error {
	log.Info().Str("member", sess.MemberID()).Int32("generation", sess.GenerationID()).Msg("consumer group session started")
	return nil
}

func (h *consumerHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	log.Info().Str("member", sess.MemberID()).Msg("consumer group session ended")
	return nil
}

// ConsumeClaim marks every message once it has been handled. A message that
// fails is logged and skipped. Once the session context ends no further
// messages are taken, and the one in flight is allowed to finish.
func (h *consumerHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if sess.Context().Err() != nil {
				return nil
			}
			h.handle(context.WithoutCancel(sess.Context()), msg)
			sess.MarkMessage(msg, "")
		}
	}
}

func (h *consumerHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("message handler panicked")
		}
	}()
	log.Debug().Str("topic", msg.Topic).Int32("partition", msg.Partition).Int64("offset", msg.Offset).Msg("processing message")
	if err := h.rec.HandleMessage(ctx, msg.Topic, msg.Value); err != nil {
		log.Error().Err(err).Str("topic", msg.Topic).Int32("partition", msg.Partition).Int64("offset", msg.Offset).Msg("error processing message")
	}
}
