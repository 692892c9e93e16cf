package ops

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/tarungka/weave/internal/logger"
	"github.com/tarungka/weave/tree"
)

// KafkaWriterConfig configures a Kafka-producing sink op.
type KafkaWriterConfig struct {
	Brokers []string
	Topic   string

	// Column is the column produced as each record's value. Defaults to the
	// first input column. The row id becomes the record key.
	Column string

	QueueSize int
}

// KafkaWriterOp tees rows to a Kafka topic while passing them through. Each
// row becomes one record keyed by its row id. Records are produced
// synchronously per buffer, so a buffer reaches downstream only after the
// cluster acknowledged its records.
type KafkaWriterOp struct {
	brokers []string
	topic   string
	column  string
	colIdx  int

	client *kgo.Client
	rows   int64
	logger zerolog.Logger
}

// NewKafkaWriter builds a kafka writer node from cfg. The broker connection
// is dialed during prepare, not here.
func NewKafkaWriter(cfg KafkaWriterConfig) (*tree.Node, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("ops: kafka writer needs at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("ops: kafka writer needs a topic")
	}
	op := &KafkaWriterOp{
		brokers: cfg.Brokers,
		topic:   cfg.Topic,
		column:  cfg.Column,
		logger: logger.GetLogger("ops").With().
			Str("op", "kafka_writer").Str("topic", cfg.Topic).Logger(),
	}
	return tree.NewNode(op, queueOrDefault(cfg.QueueSize)), nil
}

func (o *KafkaWriterOp) Name() string { return "kafka_writer" }

func (o *KafkaWriterOp) NumWorkers() int { return 1 }

func (o *KafkaWriterOp) Fingerprint() string {
	col := o.column
	if col == "" {
		col = "0"
	}
	return fmt.Sprintf("topic=%s,column=%s", o.topic, col)
}

// PrepareNodePre dials the cluster so a bad broker list fails the prepare
// walk instead of a worker.
func (o *KafkaWriterOp) PrepareNodePre(n *tree.Node) error {
	opts := []kgo.Opt{
		kgo.SeedBrokers(o.brokers...),
		kgo.DefaultProduceTopic(o.topic),
		kgo.AllowAutoTopicCreation(),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("kafka client: %w", err)
	}
	o.client = client
	o.logger.Debug().Msg("kafka writer connected")
	return nil
}

// PrepareNodePost resolves the value column against the inherited map.
func (o *KafkaWriterOp) PrepareNodePost(n *tree.Node) error {
	if o.column == "" {
		o.colIdx = 0
		return nil
	}
	cm := n.ColumnNameMap()
	idx, ok := cm[o.column]
	if !ok {
		return fmt.Errorf("ops: kafka writer column %q not in input columns %v", o.column, columnNames(cm))
	}
	o.colIdx = idx
	return nil
}

func (o *KafkaWriterOp) Run(n *tree.Node, workerID int) error {
	defer o.client.Close()
	ctx := n.Tree().Context()

	for {
		b, err := n.GetNextInput(0, workerID)
		if err != nil {
			return err
		}
		if b.IsEOF() {
			o.logger.Debug().Int64("rows", o.rows).Msg("kafka writer complete")
			return nil
		}
		rows := b.Rows()
		recs := make([]*kgo.Record, 0, len(rows))
		for _, row := range rows {
			if o.colIdx >= len(row.Cols) {
				return fmt.Errorf("ops: row %d has no column %d", row.ID, o.colIdx)
			}
			recs = append(recs, &kgo.Record{
				Key:   []byte(strconv.FormatInt(row.ID, 10)),
				Value: row.Cols[o.colIdx],
			})
		}
		if len(recs) > 0 {
			if err := o.client.ProduceSync(ctx, recs...).FirstErr(); err != nil {
				return fmt.Errorf("kafka produce: %w", err)
			}
			o.rows += int64(len(recs))
		}
		if err := n.Emit(workerID, b); err != nil {
			return err
		}
	}
}
