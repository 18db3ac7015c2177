package room

import "github.com/noteflow/syncd/internal/crdt"

// The methods below satisfy crdtfs.MetaStore: every local mutation
// made through the filesystem-capture seam is merged into the room's
// metadata document and, like a remote peer's update, marks the doc
// dirty for persistence and rebroadcasts to every connected meta-scope
// peer.

func (r *Room) SetTitle(path, title, replica string) crdt.Update {
	u := r.meta.SetTitle(path, title, replica)
	r.noteLocalMetaUpdate(u)

	return u
}

func (r *Room) SetParent(path, parent, replica string) crdt.Update {
	u := r.meta.SetParent(path, parent, replica)
	r.noteLocalMetaUpdate(u)

	return u
}

func (r *Room) SetTombstone(path string, deleted bool, replica string) crdt.Update {
	u := r.meta.SetTombstone(path, deleted, replica)
	r.noteLocalMetaUpdate(u)

	return u
}

func (r *Room) AddContent(path, child, replica string) crdt.Update {
	u := r.meta.AddContent(path, child, replica)
	r.noteLocalMetaUpdate(u)

	return u
}

func (r *Room) RemoveContent(path, child, replica string) (crdt.Update, bool) {
	u, ok := r.meta.RemoveContent(path, child, replica)
	if ok {
		r.noteLocalMetaUpdate(u)
	}

	return u, ok
}

func (r *Room) AddAttachment(path, ref, replica string) crdt.Update {
	u := r.meta.AddAttachment(path, ref, replica)
	r.noteLocalMetaUpdate(u)

	return u
}

func (r *Room) RemoveAttachment(path, ref, replica string) (crdt.Update, bool) {
	u, ok := r.meta.RemoveAttachment(path, ref, replica)
	if ok {
		r.noteLocalMetaUpdate(u)
	}

	return u, ok
}

func (r *Room) AddAudience(path, tag, replica string) crdt.Update {
	u := r.meta.AddAudience(path, tag, replica)
	r.noteLocalMetaUpdate(u)

	return u
}

func (r *Room) RemoveAudience(path, tagValue, replica string) (crdt.Update, bool) {
	u, ok := r.meta.RemoveAudience(path, tagValue, replica)
	if ok {
		r.noteLocalMetaUpdate(u)
	}

	return u, ok
}

// Entry is a plain passthrough: reads need no dirty-tracking or
// broadcast.
func (r *Room) Entry(path string) (crdt.EntryView, bool) {
	return r.meta.Entry(path)
}

func (r *Room) noteLocalMetaUpdate(u crdt.Update) {
	r.mu.Lock()
	r.metaDirty = true
	r.mu.Unlock()

	r.broadcast(ScopeMeta, "", encodeFrame(frameKindMetaUpdates, crdt.EncodeUpdates([]crdt.Update{u})), nil)
}

func (r *Room) noteLocalBodyInsert(path string, ops []crdt.InsertOp) {
	if len(ops) == 0 {
		return
	}

	r.markBodyDirty(path)
	r.broadcast(ScopeBody, path, encodeFrame(frameKindBodyInserts, crdt.EncodeInserts(ops)), nil)
}

func (r *Room) noteLocalBodyDelete(path string, op crdt.DeleteOp) {
	r.markBodyDirty(path)
	r.broadcast(ScopeBody, path, encodeFrame(frameKindBodyDeletes, crdt.EncodeDeletes([]crdt.DeleteOp{op})), nil)
}
