package tree

import (
	"fmt"
	"hash/crc32"
	"io"
)

// GenerateCRC computes a deterministic structural fingerprint of the subtree
// rooted at n: op names, op configuration (via the Fingerprinter capability),
// samplers and child structure, in a fixed traversal order. Node ids and
// anything address- or run-dependent are excluded, so the value is stable
// across process runs for identical configuration and changes when any
// configuration affecting output changes. Caching and dedup logic key on it.
func GenerateCRC(n *Node) uint32 {
	h := crc32.NewIEEE()
	writeNodeCRC(h, n)
	return h.Sum32()
}

func writeNodeCRC(w io.Writer, n *Node) {
	io.WriteString(w, n.op.Name())
	if f, ok := n.op.(Fingerprinter); ok {
		fmt.Fprintf(w, "{%s}", f.Fingerprint())
	}
	if n.smp != nil {
		fmt.Fprintf(w, "[%s]", n.smp.String())
	}
	io.WriteString(w, "(")
	for i, c := range n.Children() {
		if i > 0 {
			io.WriteString(w, ",")
		}
		writeNodeCRC(w, c)
	}
	io.WriteString(w, ")")
}
