package room

import "github.com/noteflow/syncd/internal/crdt"

// observedBody wraps a room's body document so that local mutations
// made through the crdtfs.Body seam — a filesystem write captured into
// the CRDT layer rather than a remote peer's frame — still mark the
// document dirty for persistence and rebroadcast to every connected
// peer watching that path, exactly like a remote update would.
type observedBody struct {
	doc  *crdt.BodyDoc
	path string
	room *Room
}

func (o *observedBody) Text() string        { return o.doc.Text() }
func (o *observedBody) LiveIDs() []crdt.Tag { return o.doc.LiveIDs() }

func (o *observedBody) Delete(id crdt.Tag, replica string) (crdt.DeleteOp, error) {
	op, err := o.doc.Delete(id, replica)
	if err != nil {
		return op, err
	}

	o.room.noteLocalBodyDelete(o.path, op)

	return op, nil
}

func (o *observedBody) InsertText(after crdt.Tag, text, replica string) (crdt.Tag, []crdt.InsertOp, error) {
	tag, ops, err := o.doc.InsertText(after, text, replica)
	if err != nil {
		return tag, ops, err
	}

	o.room.noteLocalBodyInsert(o.path, ops)

	return tag, ops, err
}
