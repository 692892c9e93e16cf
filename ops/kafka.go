package ops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/tarungka/weave/buffer"
	"github.com/tarungka/weave/internal/logger"
	"github.com/tarungka/weave/tree"
)

// KafkaConfig configures a sequential streaming leaf over a Kafka topic.
type KafkaConfig struct {
	Brokers []string
	Topic   string

	// Group is the consumer group. Defaults to a fresh "weave-" group per
	// run.
	Group string

	// EpochSize closes an epoch after this many rows. Required: a stream has
	// no natural end-of-epoch.
	EpochSize int64

	// MaxRows ends the stream after this many rows, even under a repeat.
	// Zero reads until shutdown. A reader below a cache layer must set it;
	// the cache needs a finite build pass.
	MaxRows int64

	BatchRows int
	QueueSize int
}

// KafkaReaderOp is a sequential streaming leaf: it polls a topic and turns
// each record into a row with columns "key" and "value". Row ids number the
// records in consumption order. Offsets are mark-committed only after the
// rows carrying them were handed downstream.
type KafkaReaderOp struct {
	brokers   []string
	topic     string
	group     string
	epochSize int64
	maxRows   int64
	batchRows int

	client *kgo.Client
	gate   *epochGate
	logger zerolog.Logger
}

// NewKafkaReader builds a kafka reader node from cfg. The broker connection
// is dialed during prepare, not here.
func NewKafkaReader(cfg KafkaConfig) (*tree.Node, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("ops: kafka reader needs at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("ops: kafka reader needs a topic")
	}
	if cfg.EpochSize <= 0 {
		return nil, errors.New("ops: kafka reader needs a positive epoch size")
	}
	group := cfg.Group
	if group == "" {
		group = "weave-" + uuid.NewString()[:8]
	}
	batch := cfg.BatchRows
	if batch <= 0 {
		batch = 1
	}
	op := &KafkaReaderOp{
		brokers:   cfg.Brokers,
		topic:     cfg.Topic,
		group:     group,
		epochSize: cfg.EpochSize,
		maxRows:   cfg.MaxRows,
		batchRows: batch,
		gate:      newEpochGate(),
		logger: logger.GetLogger("ops").With().
			Str("op", "kafka_reader").Str("topic", cfg.Topic).Logger(),
	}
	return tree.NewNode(op, queueOrDefault(cfg.QueueSize)), nil
}

func (o *KafkaReaderOp) Name() string { return "kafka_reader" }

func (o *KafkaReaderOp) NumWorkers() int { return 1 }

func (o *KafkaReaderOp) Fingerprint() string {
	return fmt.Sprintf("topic=%s,group=%s,epoch=%d,max=%d", o.topic, o.group, o.epochSize, o.maxRows)
}

func (o *KafkaReaderOp) ComputeColumnMap(n *tree.Node) (map[string]int, error) {
	return map[string]int{"key": 0, "value": 1}, nil
}

// PrepareNodePre dials the cluster so a bad broker list fails the prepare
// walk instead of a worker.
func (o *KafkaReaderOp) PrepareNodePre(n *tree.Node) error {
	opts := []kgo.Opt{
		kgo.SeedBrokers(o.brokers...),
		kgo.ConsumerGroup(o.group),
		kgo.ConsumeTopics(o.topic),
		kgo.AllowAutoTopicCreation(),
		kgo.AutoCommitMarks(),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("kafka client: %w", err)
	}
	o.client = client
	o.logger.Debug().Str("group", o.group).Msg("kafka reader connected")
	return nil
}

func (o *KafkaReaderOp) PrepareNodePost(n *tree.Node) error {
	return n.SaveSamplerForCache(false)
}

func (o *KafkaReaderOp) Reset(n *tree.Node) error {
	o.gate.resume()
	return nil
}

func (o *KafkaReaderOp) releaseEpochs() { o.gate.release() }

func (o *KafkaReaderOp) Run(n *tree.Node, workerID int) error {
	defer o.client.Close()
	ctx := n.Tree().Context()

	var (
		seq         int64
		total       int64
		inEpoch     int64
		pending     []buffer.Row
		pendingRecs []*kgo.Record
	)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := n.Emit(workerID, buffer.New(seq, pending)); err != nil {
			return err
		}
		seq++
		o.client.MarkCommitRecords(pendingRecs...)
		pending, pendingRecs = nil, nil
		return nil
	}
	endStream := func(closeEpoch bool) error {
		if err := flush(); err != nil {
			return err
		}
		if closeEpoch {
			if err := n.Emit(workerID, buffer.NewEOE()); err != nil {
				return err
			}
		}
		return n.Emit(workerID, buffer.NewEOF())
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches := o.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return ctx.Err()
		}
		var fetchErr error
		fetches.EachError(func(topic string, partition int32, err error) {
			// Retriable errors are retried inside the client; anything
			// surfacing here is worth acting on.
			if errors.Is(err, context.Canceled) {
				fetchErr = context.Canceled
				return
			}
			o.logger.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("kafka fetch error")
			if fetchErr == nil {
				fetchErr = fmt.Errorf("kafka fetch %s/%d: %w", topic, partition, err)
			}
		})
		if fetchErr != nil {
			return fetchErr
		}
		if fetches.Empty() {
			time.Sleep(100 * time.Millisecond) // small backoff
			continue
		}

		iter := fetches.RecordIter()
		for !iter.Done() {
			rec := iter.Next()
			pending = append(pending, buffer.Row{ID: total, Cols: [][]byte{rec.Key, rec.Value}})
			pendingRecs = append(pendingRecs, rec)
			total++
			inEpoch++
			if int64(len(pending)) >= int64(o.batchRows) {
				if err := flush(); err != nil {
					return err
				}
			}

			if inEpoch >= o.epochSize {
				if err := flush(); err != nil {
					return err
				}
				if err := n.Emit(workerID, buffer.NewEOE()); err != nil {
					return err
				}
				inEpoch = 0
				if o.maxRows > 0 && total >= o.maxRows {
					return endStream(false)
				}
				if n.ControlFlag(tree.CtrlRepeated) {
					again, err := o.gate.wait(ctx)
					if err != nil {
						return err
					}
					if !again {
						return endStream(false)
					}
				}
				continue
			}
			if o.maxRows > 0 && total >= o.maxRows {
				return endStream(true)
			}
		}
	}
}
