package ops

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tarungka/weave/tree"
)

// ProjectConfig configures a column selection op.
type ProjectConfig struct {
	// Columns are the child columns to keep, in output order. Empty keeps
	// every column; combined with no renames that is an identity projection,
	// which the optimizer prunes.
	Columns []string

	// Rename maps child column names to output names.
	Rename map[string]string

	QueueSize int
}

// ProjectOp narrows and renames columns. Source indices resolve once against
// the child's column map during prepare; the row payload is rebuilt from
// those indices.
type ProjectOp struct {
	columns []string
	rename  map[string]string

	srcIdx  []int
	outCols []string
}

// NewProject builds a project node from cfg.
func NewProject(cfg ProjectConfig) (*tree.Node, error) {
	seen := make(map[string]bool, len(cfg.Columns))
	for _, c := range cfg.Columns {
		if c == "" {
			return nil, fmt.Errorf("ops: project column name must not be empty")
		}
		if seen[c] {
			return nil, fmt.Errorf("ops: project column %q selected twice", c)
		}
		seen[c] = true
	}
	op := &ProjectOp{
		columns: cfg.Columns,
		rename:  cfg.Rename,
	}
	return tree.NewNode(op, queueOrDefault(cfg.QueueSize)), nil
}

func (o *ProjectOp) Name() string { return "project" }

func (o *ProjectOp) NumWorkers() int { return 1 }

// IsIdentity reports whether the projection changes nothing; such nodes are
// safe to splice out.
func (o *ProjectOp) IsIdentity() bool {
	return len(o.columns) == 0 && len(o.rename) == 0
}

func (o *ProjectOp) Fingerprint() string {
	renames := make([]string, 0, len(o.rename))
	for from, to := range o.rename {
		renames = append(renames, from+">"+to)
	}
	// Map order is not deterministic; fingerprints must be.
	sort.Strings(renames)
	return fmt.Sprintf("cols=%s,renames=%s", strings.Join(o.columns, "+"), strings.Join(renames, "+"))
}

// ComputeColumnMap resolves the selection against the child's map and builds
// the output map.
func (o *ProjectOp) ComputeColumnMap(n *tree.Node) (map[string]int, error) {
	if n.NumChildren() != 1 {
		return nil, fmt.Errorf("%w: project needs exactly one child", tree.ErrInvalidTopology)
	}
	childMap := n.Child(0).ColumnNameMap()
	if len(childMap) == 0 {
		return nil, fmt.Errorf("%w: project child %s has no column map", tree.ErrNotPrepared, n.Child(0))
	}

	selected := o.columns
	if len(selected) == 0 {
		// Rename-only: keep every child column in index order.
		selected = make([]string, len(childMap))
		for name, idx := range childMap {
			if idx < 0 || idx >= len(selected) {
				return nil, fmt.Errorf("ops: project child column %q has index %d outside [0,%d)", name, idx, len(selected))
			}
			selected[idx] = name
		}
	}

	o.srcIdx = make([]int, len(selected))
	o.outCols = make([]string, len(selected))
	out := make(map[string]int, len(selected))
	for i, name := range selected {
		idx, ok := childMap[name]
		if !ok {
			return nil, fmt.Errorf("ops: project column %q not in input columns %v", name, columnNames(childMap))
		}
		o.srcIdx[i] = idx
		outName := name
		if renamed, ok := o.rename[name]; ok {
			outName = renamed
		}
		if _, dup := out[outName]; dup {
			return nil, fmt.Errorf("ops: project output column %q produced twice", outName)
		}
		o.outCols[i] = outName
		out[outName] = i
	}
	return out, nil
}

func (o *ProjectOp) Run(n *tree.Node, workerID int) error {
	identity := o.IsIdentity()
	for {
		b, err := n.GetNextInput(0, workerID)
		if err != nil {
			return err
		}
		if b.IsEOF() {
			return nil
		}
		if !identity {
			rows := b.Rows()
			for ri := range rows {
				cols := make([][]byte, len(o.srcIdx))
				for j, si := range o.srcIdx {
					if si >= len(rows[ri].Cols) {
						return fmt.Errorf("ops: row %d has no column %d", rows[ri].ID, si)
					}
					cols[j] = rows[ri].Cols[si]
				}
				rows[ri].Cols = cols
			}
		}
		if err := n.Emit(workerID, b); err != nil {
			return err
		}
	}
}
