package pipeline

import (
	"fmt"

	"github.com/tarungka/weave/ops"
	"github.com/tarungka/weave/sampler"
	"github.com/tarungka/weave/tree"
)

// Spec is the declarative form of an execution tree. Ops are listed source
// first: the first spec is the leaf, each following op consumes the one
// before it, and the last is the tree root the iterator reads from.
type Spec struct {
	Name string   `koanf:"name"`
	Ops  []OpSpec `koanf:"ops"`

	// Prune splices out single-pass repeats and identity projections.
	Prune bool `koanf:"prune"`

	// Cache wraps random-access leaves in a cache layer. CacheDir names the
	// backing store directory; empty keeps the store in memory.
	Cache    bool   `koanf:"cache"`
	CacheDir string `koanf:"cache_dir"`
}

// TransformSpec names one column rewrite for a map op.
type TransformSpec struct {
	Column string `koanf:"column"`
	Name   string `koanf:"name"`
}

// OpSpec configures one operator. Type picks the operator; the other fields
// are read per type and ignored otherwise.
type OpSpec struct {
	Type string `koanf:"type"`

	// generator and project
	Columns []string `koanf:"columns"`

	// generator
	NumRows  int   `koanf:"num_rows"`
	Shuffled bool  `koanf:"shuffled"`
	Seed     int64 `koanf:"seed"`

	// kafka reader and writer
	Brokers   []string `koanf:"brokers"`
	Topic     string   `koanf:"topic"`
	Group     string   `koanf:"group"`
	EpochSize int64    `koanf:"epoch_size"`
	MaxRows   int64    `koanf:"max_rows"`
	Column    string   `koanf:"column"`

	// map
	Workers    int             `koanf:"workers"`
	Transforms []TransformSpec `koanf:"transforms"`

	// batch
	Size          int  `koanf:"size"`
	DropRemainder bool `koanf:"drop_remainder"`

	// shuffle
	BufferSize int `koanf:"buffer_size"`

	// repeat
	Count int `koanf:"count"`

	// project
	Rename map[string]string `koanf:"rename"`

	// save
	Path string `koanf:"path"`

	// shared
	BatchRows int `koanf:"batch_rows"`
	QueueSize int `koanf:"queue_size"`
}

// buildOp turns one op spec into a node.
func buildOp(s OpSpec) (*tree.Node, error) {
	switch s.Type {
	case "generator":
		var smp sampler.Sampler
		if s.Shuffled {
			smp = sampler.NewRandom(s.Seed, false)
		}
		return ops.NewGenerator(ops.GeneratorConfig{
			Columns:   s.Columns,
			NumRows:   s.NumRows,
			BatchRows: s.BatchRows,
			QueueSize: s.QueueSize,
			Sampler:   smp,
		})
	case "kafka":
		return ops.NewKafkaReader(ops.KafkaConfig{
			Brokers:   s.Brokers,
			Topic:     s.Topic,
			Group:     s.Group,
			EpochSize: s.EpochSize,
			MaxRows:   s.MaxRows,
			BatchRows: s.BatchRows,
			QueueSize: s.QueueSize,
		})
	case "kafka_writer":
		return ops.NewKafkaWriter(ops.KafkaWriterConfig{
			Brokers:   s.Brokers,
			Topic:     s.Topic,
			Column:    s.Column,
			QueueSize: s.QueueSize,
		})
	case "map":
		transforms := make([]ops.Transform, 0, len(s.Transforms))
		for _, ts := range s.Transforms {
			fn, err := ops.TransformByName(ts.Name)
			if err != nil {
				return nil, err
			}
			transforms = append(transforms, ops.Transform{Column: ts.Column, Name: ts.Name, Fn: fn})
		}
		return ops.NewMap(ops.MapConfig{
			Workers:    s.Workers,
			Transforms: transforms,
			QueueSize:  s.QueueSize,
		})
	case "batch":
		return ops.NewBatch(ops.BatchConfig{
			Size:          s.Size,
			DropRemainder: s.DropRemainder,
			QueueSize:     s.QueueSize,
		})
	case "shuffle":
		return ops.NewShuffle(ops.ShuffleConfig{
			BufferSize: s.BufferSize,
			Seed:       s.Seed,
			QueueSize:  s.QueueSize,
		})
	case "repeat":
		return ops.NewRepeat(ops.RepeatConfig{Count: s.Count})
	case "project":
		return ops.NewProject(ops.ProjectConfig{
			Columns:   s.Columns,
			Rename:    s.Rename,
			QueueSize: s.QueueSize,
		})
	case "save":
		return ops.NewSave(ops.SaveConfig{
			Path:      s.Path,
			QueueSize: s.QueueSize,
		})
	default:
		return nil, fmt.Errorf("unknown op type: %s", s.Type)
	}
}
