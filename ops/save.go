package ops

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/tarungka/weave/buffer"
	"github.com/tarungka/weave/internal/logger"
	"github.com/tarungka/weave/tree"
)

// SaveConfig configures a JSON-lines file sink.
type SaveConfig struct {
	// Path is the output file. Parent directories are created; an existing
	// file is truncated.
	Path string

	QueueSize int
}

// savedRow is the on-disk record shape. Column payloads marshal as base64
// per encoding/json's []byte convention.
type savedRow struct {
	ID   int64    `json:"id"`
	Cols [][]byte `json:"cols"`
}

// SaveOp tees rows to a JSON-lines file while passing them through. Epoch
// boundaries flush; the end of the stream flushes and closes. Under a repeat
// every pass appends to the same file.
type SaveOp struct {
	path   string
	file   *os.File
	w      *bufio.Writer
	rows   int64
	logger zerolog.Logger
}

// NewSave builds a save node from cfg.
func NewSave(cfg SaveConfig) (*tree.Node, error) {
	if cfg.Path == "" {
		return nil, errors.New("ops: save needs a file path")
	}
	op := &SaveOp{
		path: cfg.Path,
		logger: logger.GetLogger("ops").With().
			Str("op", "save").Str("path", cfg.Path).Logger(),
	}
	return tree.NewNode(op, queueOrDefault(cfg.QueueSize)), nil
}

func (o *SaveOp) Name() string { return "save" }

func (o *SaveOp) NumWorkers() int { return 1 }

func (o *SaveOp) Fingerprint() string { return "path=" + o.path }

// PrepareNodePre opens the output file so a bad path fails the prepare walk
// instead of a worker.
func (o *SaveOp) PrepareNodePre(n *tree.Node) error {
	dir := filepath.Dir(o.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("save output dir: %w", err)
	}
	file, err := os.OpenFile(o.path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("save output file: %w", err)
	}
	o.file = file
	o.w = bufio.NewWriter(file)
	return nil
}

func (o *SaveOp) Run(n *tree.Node, workerID int) error {
	for {
		b, err := n.GetNextInput(0, workerID)
		if err != nil {
			return err
		}
		if b.IsEOF() {
			return nil
		}
		if err := o.writeRows(b.Rows()); err != nil {
			return err
		}
		if err := n.Emit(workerID, b); err != nil {
			return err
		}
	}
}

func (o *SaveOp) writeRows(rows []buffer.Row) error {
	for _, row := range rows {
		line, err := json.Marshal(savedRow{ID: row.ID, Cols: row.Cols})
		if err != nil {
			return fmt.Errorf("save row %d: %w", row.ID, err)
		}
		if _, err := o.w.Write(line); err != nil {
			return fmt.Errorf("save row %d: %w", row.ID, err)
		}
		if err := o.w.WriteByte('\n'); err != nil {
			return fmt.Errorf("save row %d: %w", row.ID, err)
		}
		o.rows++
	}
	return nil
}

// EOEReceived flushes buffered lines before forwarding the epoch boundary, so
// the file is complete up to every boundary an observer can see downstream.
func (o *SaveOp) EOEReceived(n *tree.Node, workerID int) error {
	if err := o.w.Flush(); err != nil {
		return fmt.Errorf("save flush: %w", err)
	}
	return n.Emit(workerID, buffer.NewEOE())
}

// EOFReceived flushes and closes the file, then forwards the end of the
// stream.
func (o *SaveOp) EOFReceived(n *tree.Node, workerID int) error {
	if err := o.w.Flush(); err != nil {
		return fmt.Errorf("save flush: %w", err)
	}
	if err := o.file.Close(); err != nil {
		return fmt.Errorf("save close: %w", err)
	}
	o.logger.Debug().Int64("rows", o.rows).Msg("save complete")
	return n.Emit(workerID, buffer.NewEOF())
}
