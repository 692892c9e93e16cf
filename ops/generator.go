package ops

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tarungka/weave/buffer"
	"github.com/tarungka/weave/internal/logger"
	"github.com/tarungka/weave/sampler"
	"github.com/tarungka/weave/tree"
)

// GeneratorConfig configures an in-memory random-access leaf.
type GeneratorConfig struct {
	// Columns names the output columns. Defaults to a single "payload".
	Columns []string

	// Rows is an explicit base table. Row ids are overwritten with the table
	// index; that index is the row's identity for samplers and caches.
	Rows []buffer.Row

	// NumRows synthesizes a table of this size when Rows is empty, filling
	// cells with Generate (or "<column>-<id>" when Generate is nil).
	NumRows  int
	Generate func(id int64, col int) []byte

	// BatchRows is the number of rows per emitted buffer. Defaults to 1.
	BatchRows int

	// QueueSize is the output connector capacity per producer.
	QueueSize int

	// Sampler decides visit order per pass. Defaults to a sequential scan.
	Sampler sampler.Sampler
}

// GeneratorOp is a random-access leaf: a fixed table of rows, one sampler
// pass per epoch. Under a repeat it parks at each epoch boundary until the
// repeat re-arms or releases it.
type GeneratorOp struct {
	cols      []string
	rows      []buffer.Row
	batchRows int
	gate      *epochGate
	logger    zerolog.Logger
}

// NewGenerator builds a generator node from cfg.
func NewGenerator(cfg GeneratorConfig) (*tree.Node, error) {
	cols := cfg.Columns
	if len(cols) == 0 {
		cols = []string{"payload"}
	}
	rows := cfg.Rows
	if len(rows) == 0 {
		if cfg.NumRows <= 0 {
			return nil, errors.New("ops: generator needs Rows or a positive NumRows")
		}
		gen := cfg.Generate
		if gen == nil {
			gen = func(id int64, col int) []byte {
				return []byte(fmt.Sprintf("%s-%d", cols[col], id))
			}
		}
		rows = make([]buffer.Row, cfg.NumRows)
		for i := range rows {
			c := make([][]byte, len(cols))
			for j := range cols {
				c[j] = gen(int64(i), j)
			}
			rows[i] = buffer.Row{ID: int64(i), Cols: c}
		}
	} else {
		for i := range rows {
			if len(rows[i].Cols) != len(cols) {
				return nil, fmt.Errorf("ops: generator row %d has %d columns, want %d", i, len(rows[i].Cols), len(cols))
			}
			rows[i].ID = int64(i)
		}
	}
	batch := cfg.BatchRows
	if batch <= 0 {
		batch = 1
	}
	op := &GeneratorOp{
		cols:      cols,
		rows:      rows,
		batchRows: batch,
		gate:      newEpochGate(),
		logger:    logger.GetLogger("ops").With().Str("op", "generator").Logger(),
	}
	n := tree.NewNode(op, queueOrDefault(cfg.QueueSize))
	smp := cfg.Sampler
	if smp == nil {
		smp = sampler.NewSequential(0, 1)
	}
	n.SetSampler(smp)
	return n, nil
}

func (o *GeneratorOp) Name() string { return "generator" }

func (o *GeneratorOp) NumWorkers() int { return 1 }

func (o *GeneratorOp) Fingerprint() string {
	return fmt.Sprintf("rows=%d,cols=%s,batch=%d", len(o.rows), strings.Join(o.cols, "+"), o.batchRows)
}

func (o *GeneratorOp) ComputeColumnMap(n *tree.Node) (map[string]int, error) {
	m := make(map[string]int, len(o.cols))
	for i, c := range o.cols {
		m[c] = i
	}
	return m, nil
}

// PrepareNodePost offers the sampler to a cache layer above, if one exists.
func (o *GeneratorOp) PrepareNodePost(n *tree.Node) error {
	return n.SaveSamplerForCache(true)
}

// Reset re-arms the gate for one more pass.
func (o *GeneratorOp) Reset(n *tree.Node) error {
	o.gate.resume()
	return nil
}

func (o *GeneratorOp) releaseEpochs() { o.gate.release() }

func (o *GeneratorOp) Run(n *tree.Node, workerID int) error {
	var seq int64
	for {
		if err := o.emitPass(n, workerID, &seq); err != nil {
			return err
		}
		if err := n.Emit(workerID, buffer.NewEOE()); err != nil {
			return err
		}
		if !n.ControlFlag(tree.CtrlRepeated) {
			break
		}
		again, err := o.gate.wait(n.Tree().Context())
		if err != nil {
			return err
		}
		if !again {
			break
		}
	}
	return n.Emit(workerID, buffer.NewEOF())
}

// emitPass runs one sampler pass over the table. Rows are cloned so
// downstream in-place transforms cannot corrupt the base table between
// passes.
func (o *GeneratorOp) emitPass(n *tree.Node, workerID int, seq *int64) error {
	smp := n.Sampler()
	if err := smp.Reset(int64(len(o.rows))); err != nil {
		return fmt.Errorf("generator sampler reset: %w", err)
	}
	for {
		idx, err := smp.Next(o.batchRows)
		if errors.Is(err, sampler.ErrExhausted) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("generator sampler next: %w", err)
		}
		rows := make([]buffer.Row, 0, len(idx))
		for _, i := range idx {
			if i < 0 || i >= int64(len(o.rows)) {
				return fmt.Errorf("ops: sampler index %d out of range [0,%d)", i, len(o.rows))
			}
			rows = append(rows, o.rows[i].Clone())
		}
		if err := n.Emit(workerID, buffer.New(*seq, rows)); err != nil {
			return err
		}
		*seq++
	}
}
