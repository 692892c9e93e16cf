package ops

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tarungka/weave/tree"
)

// TransformFunc rewrites one column payload.
type TransformFunc func([]byte) ([]byte, error)

// Transform applies a function to the named column of every row.
type Transform struct {
	Column string
	Name   string // transform name, used in logs and fingerprints
	Fn     TransformFunc
}

// TransformByName resolves a transform for config-driven pipelines.
// Parameterized transforms take "name:arg" form.
func TransformByName(name string) (TransformFunc, error) {
	base, arg, _ := strings.Cut(name, ":")
	switch base {
	case "uppercase":
		return func(b []byte) ([]byte, error) { return bytes.ToUpper(b), nil }, nil
	case "lowercase":
		return func(b []byte) ([]byte, error) { return bytes.ToLower(b), nil }, nil
	case "reverse":
		return func(b []byte) ([]byte, error) {
			out := make([]byte, len(b))
			for i := range b {
				out[len(b)-1-i] = b[i]
			}
			return out, nil
		}, nil
	case "prefix":
		return func(b []byte) ([]byte, error) { return append([]byte(arg), b...), nil }, nil
	case "suffix":
		return func(b []byte) ([]byte, error) { return append(append([]byte(nil), b...), arg...), nil }, nil
	}
	return nil, fmt.Errorf("ops: unknown transform %q", name)
}

// MapConfig configures a parallel per-row transform op.
type MapConfig struct {
	// Workers is the number of parallel workers. Defaults to 1. Buffers keep
	// their sequence numbers but may interleave across workers downstream.
	Workers    int
	Transforms []Transform
	QueueSize  int
}

// MapOp applies column transforms to every row that passes through. Column
// names resolve to indices once, during prepare.
type MapOp struct {
	workers    int
	transforms []Transform
	colIdx     []int
}

// NewMap builds a map node from cfg.
func NewMap(cfg MapConfig) (*tree.Node, error) {
	if len(cfg.Transforms) == 0 {
		return nil, errors.New("ops: map needs at least one transform")
	}
	for i, tr := range cfg.Transforms {
		if tr.Column == "" || tr.Fn == nil {
			return nil, fmt.Errorf("ops: map transform %d needs a column and a function", i)
		}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	op := &MapOp{
		workers:    workers,
		transforms: cfg.Transforms,
	}
	return tree.NewNode(op, queueOrDefault(cfg.QueueSize)), nil
}

func (o *MapOp) Name() string { return "map" }

func (o *MapOp) NumWorkers() int { return o.workers }

func (o *MapOp) Fingerprint() string {
	parts := make([]string, len(o.transforms))
	for i, tr := range o.transforms {
		name := tr.Name
		if name == "" {
			name = "fn"
		}
		parts[i] = tr.Column + "=" + name
	}
	return fmt.Sprintf("workers=%d,transforms=%s", o.workers, strings.Join(parts, "+"))
}

// PrepareNodePost resolves transform columns against the inherited map.
func (o *MapOp) PrepareNodePost(n *tree.Node) error {
	cm := n.ColumnNameMap()
	o.colIdx = make([]int, len(o.transforms))
	for i, tr := range o.transforms {
		idx, ok := cm[tr.Column]
		if !ok {
			return fmt.Errorf("ops: map transform column %q not in input columns %v", tr.Column, columnNames(cm))
		}
		o.colIdx[i] = idx
	}
	return nil
}

func (o *MapOp) Run(n *tree.Node, workerID int) error {
	for {
		b, err := n.GetNextInput(0, workerID)
		if err != nil {
			return err
		}
		if b.IsEOF() {
			return nil
		}
		rows := b.Rows()
		for ri := range rows {
			for ti := range o.transforms {
				idx := o.colIdx[ti]
				if idx >= len(rows[ri].Cols) {
					return fmt.Errorf("ops: row %d has no column %d", rows[ri].ID, idx)
				}
				out, err := o.transforms[ti].Fn(rows[ri].Cols[idx])
				if err != nil {
					return fmt.Errorf("map %q on row %d: %w", o.transforms[ti].Column, rows[ri].ID, err)
				}
				rows[ri].Cols[idx] = out
			}
		}
		if err := n.Emit(workerID, b); err != nil {
			return err
		}
	}
}

func columnNames(cm map[string]int) []string {
	names := make([]string, 0, len(cm))
	for name := range cm {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
