package room

import "fmt"

// Binary frames carry one CRDT update batch each, tagged with a
// one-byte kind so a peer's read loop knows which crdt.Decode* function
// applies without inspecting the scope it connected under (a body-doc
// peer only ever receives body frames, but the kind byte keeps the wire
// shape self-describing rather than implicit).
const (
	frameKindMetaUpdates byte = 1
	frameKindBodyInserts byte = 2
	frameKindBodyDeletes byte = 3
)

func encodeFrame(kind byte, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = kind
	copy(out[1:], payload)

	return out
}

func decodeFrame(b []byte) (kind byte, payload []byte, err error) {
	if len(b) == 0 {
		return 0, nil, fmt.Errorf("room: empty frame")
	}

	return b[0], b[1:], nil
}
