// Package buffer defines the unit of transfer between operator nodes: a
// small batch of rows, or an in-band control marker (end of epoch, end of
// stream) flowing through the same channel as the data.
package buffer

// Flags mark a buffer as carrying an in-band control signal instead of rows.
type Flags uint32

const (
	// FlagNone marks a plain data buffer.
	FlagNone Flags = 0
	// FlagEOE marks the end of one epoch. It may recur; every consumer must
	// keep working after seeing it.
	FlagEOE Flags = 1 << 0
	// FlagEOF marks the end of the stream. Terminal; nothing follows it.
	FlagEOF Flags = 1 << 1
)

// Row is one record. Column payloads are opaque to the engine; column names
// live in the owning node's column map, not on the row.
type Row struct {
	// ID is a stable identifier assigned by the producing leaf. Caches key
	// rows by it.
	ID int64 `codec:"id"`
	// Cols holds one payload per column, in column-map order.
	Cols [][]byte `codec:"cols"`
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	cols := make([][]byte, len(r.Cols))
	for i, c := range r.Cols {
		cols[i] = append([]byte(nil), c...)
	}
	return Row{ID: r.ID, Cols: cols}
}

// Buffer is the unit of transfer between nodes. Control buffers carry flags
// and no rows; data buffers carry rows and no flags.
type Buffer struct {
	seq   int64
	flags Flags
	rows  []Row
}

// New returns a data buffer. The buffer takes ownership of rows.
func New(seq int64, rows []Row) *Buffer {
	return &Buffer{seq: seq, rows: rows}
}

// NewEOE returns an end-of-epoch marker.
func NewEOE() *Buffer {
	return &Buffer{flags: FlagEOE}
}

// NewEOF returns an end-of-stream marker.
func NewEOF() *Buffer {
	return &Buffer{flags: FlagEOF}
}

// Seq returns the producer-assigned sequence number.
func (b *Buffer) Seq() int64 { return b.seq }

// Flags returns the control flag bits.
func (b *Buffer) Flags() Flags { return b.flags }

// IsEOE reports whether this buffer is an end-of-epoch marker.
func (b *Buffer) IsEOE() bool { return b.flags&FlagEOE != 0 }

// IsEOF reports whether this buffer is an end-of-stream marker.
func (b *Buffer) IsEOF() bool { return b.flags&FlagEOF != 0 }

// IsData reports whether this buffer carries rows.
func (b *Buffer) IsData() bool { return b.flags == FlagNone }

// Rows returns the buffer's rows. Callers must not mutate them unless they
// own the buffer.
func (b *Buffer) Rows() []Row { return b.rows }

// NumRows returns the number of rows carried.
func (b *Buffer) NumRows() int { return len(b.rows) }

// Clone returns a deep copy, rows included.
func (b *Buffer) Clone() *Buffer {
	rows := make([]Row, len(b.rows))
	for i, r := range b.rows {
		rows[i] = r.Clone()
	}
	return &Buffer{seq: b.seq, flags: b.flags, rows: rows}
}
