package hci

import "github.com/edgebt/bte/buffer"

// rawToBuffer wraps a raw byte slice (already fully formed, e.g. an ACL
// fragment produced by the acl package) in a contiguous Buffer for
// handoff to the Backend.
func rawToBuffer(raw []byte) *buffer.Buffer {
	b := buffer.AllocContiguous(len(raw))
	w := buffer.NewWriter(b, 0)
	w.Write(raw)
	return b
}
