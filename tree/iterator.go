package tree

import (
	"errors"
	"fmt"

	"github.com/tarungka/weave/buffer"
)

// Iterator is the single external consumer of a launched tree. It pops the
// root connector directly, so the root op must not be inlined.
type Iterator struct {
	tree *Tree
	root *Node
	eof  bool
}

// NewIterator returns an iterator over the tree's root output. The tree must
// be prepared (or already executing) so the root connector exists.
func NewIterator(t *Tree) (*Iterator, error) {
	if t.State() == TreeBuilding {
		return nil, fmt.Errorf("%w: iterator needs a prepared tree", ErrNotPrepared)
	}
	root := t.Root()
	if root == nil || root.conn == nil {
		return nil, fmt.Errorf("%w: root has no connector", ErrNotPrepared)
	}
	return &Iterator{tree: t, root: root}, nil
}

// Next returns the next buffer from the root, including EOE markers. At EOF
// it returns the EOF buffer once, shuts the tree down gracefully and reports
// ErrEndOfStream on every later call.
func (it *Iterator) Next() (*buffer.Buffer, error) {
	if it.eof {
		return nil, ErrEndOfStream
	}
	b, err := it.root.conn.Pop(0)
	if err != nil {
		return nil, fmt.Errorf("iterator: %w", err)
	}
	if b.IsEOF() {
		it.eof = true
		it.tree.Shutdown(nil)
	}
	return b, nil
}

// NextRows returns the rows of the next data buffer, skipping end-of-epoch
// markers. It reports ErrEndOfStream once the stream is exhausted.
func (it *Iterator) NextRows() ([]buffer.Row, error) {
	for {
		b, err := it.Next()
		if err != nil {
			return nil, err
		}
		if b.IsEOF() {
			return nil, ErrEndOfStream
		}
		if b.IsEOE() {
			continue
		}
		return b.Rows(), nil
	}
}

// Drain consumes the stream to EOF, returning the total data row count. Useful
// for sink-terminated pipelines where rows were already written by an op.
func (it *Iterator) Drain() (int64, error) {
	var total int64
	for {
		rows, err := it.NextRows()
		if errors.Is(err, ErrEndOfStream) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		total += int64(len(rows))
	}
}
