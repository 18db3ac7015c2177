package crdt

import (
	"fmt"
	"strings"
	"sync"
)

// rgaNode is one character in the sequence, including tombstoned ones
// — a deleted node stays in the list so later concurrent inserts that
// targeted it as their origin still have somewhere to attach.
type rgaNode struct {
	ID      Tag
	Origin  Tag // Zero() for "inserted at the very start"
	Value   rune
	Deleted bool

	DeletedTag Tag // set when Deleted, the Tag of the delete operation itself

	next *rgaNode
}

// BodyDoc is one entry's text content, represented as a replicated
// growable array of runes: every character carries the Tag of the
// insert that created it, and deletion tombstones rather than splices,
// so concurrent edits converge without a central sequencer. Safe for
// concurrent use.
type BodyDoc struct {
	mu    sync.RWMutex
	head  *rgaNode // sentinel, ID is always Tag{}
	index map[Tag]*rgaNode
	clk   clock
}

// NewBodyDoc returns an empty BodyDoc.
func NewBodyDoc() *BodyDoc {
	head := &rgaNode{}
	d := &BodyDoc{head: head, index: make(map[Tag]*rgaNode), clk: newClock()}
	d.index[Tag{}] = head

	return d
}

// StateVector returns the highest operation counter seen per replica.
func (d *BodyDoc) StateVector() map[string]uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.clk.vector()
}

// Text returns the document's current content, tombstoned runes
// omitted.
func (d *BodyDoc) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var sb strings.Builder

	for n := d.head.next; n != nil; n = n.next {
		if !n.Deleted {
			sb.WriteRune(n.Value)
		}
	}

	return sb.String()
}

// LiveIDs returns the Tag of every live (non-tombstoned) rune in
// sequence order, the same order Text's runes appear in — used by
// callers that diff the document's text against some new text and
// need to turn rune offsets back into the Tags Delete and InsertAfter
// take.
func (d *BodyDoc) LiveIDs() []Tag {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ids []Tag

	for n := d.head.next; n != nil; n = n.next {
		if !n.Deleted {
			ids = append(ids, n.ID)
		}
	}

	return ids
}

// Len returns the number of live (non-tombstoned) runes.
func (d *BodyDoc) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for c := d.head.next; c != nil; c = c.next {
		if !c.Deleted {
			n++
		}
	}

	return n
}

// InsertOp is one character insertion: ID is the new character's own
// Tag, Origin the Tag of the character it was inserted immediately
// after (Zero() for the start of the document).
type InsertOp struct {
	ID     Tag
	Origin Tag
	Value  rune
}

// DeleteOp tombstones the character at ID.
type DeleteOp struct {
	ID  Tag
	Tag Tag // the delete operation's own Tag
}

// InsertAfter inserts value immediately after the character identified
// by after (Tag{} for the document start), authored by replica. It
// returns the new character's Tag for chaining a multi-rune insert.
func (d *BodyDoc) InsertAfter(after Tag, value rune, replica string) (Tag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.clk.next(replica)
	if err := d.applyInsertLocked(InsertOp{ID: id, Origin: after, Value: value}); err != nil {
		return Tag{}, err
	}

	return id, nil
}

// InsertText inserts a run of text after the character identified by
// after, chaining each new rune off the previous one, and returns the
// Tag of the last inserted rune (the position a subsequent insert
// should chain from) plus the ops for broadcasting to other peers.
func (d *BodyDoc) InsertText(after Tag, text string, replica string) (Tag, []InsertOp, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ops := make([]InsertOp, 0, len(text))
	cursor := after

	for _, r := range text {
		id := d.clk.next(replica)
		op := InsertOp{ID: id, Origin: cursor, Value: r}

		if err := d.applyInsertLocked(op); err != nil {
			return Tag{}, nil, err
		}

		ops = append(ops, op)
		cursor = id
	}

	return cursor, ops, nil
}

// Delete tombstones the character at id, authored by replica.
func (d *BodyDoc) Delete(id Tag, replica string) (DeleteOp, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	op := DeleteOp{ID: id, Tag: d.clk.next(replica)}
	if err := d.applyDeleteLocked(op); err != nil {
		return DeleteOp{}, err
	}

	return op, nil
}

// ApplyInsert merges a remote insert. It is idempotent: re-applying an
// already-known ID is a no-op.
func (d *BodyDoc) ApplyInsert(op InsertOp) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clk.observe(op.ID)

	return d.applyInsertLocked(op)
}

// ApplyDelete merges a remote delete. It is idempotent.
func (d *BodyDoc) ApplyDelete(op DeleteOp) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clk.observe(op.Tag)

	return d.applyDeleteLocked(op)
}

func (d *BodyDoc) applyInsertLocked(op InsertOp) error {
	if _, exists := d.index[op.ID]; exists {
		return nil
	}

	origin, ok := d.index[op.Origin]
	if !ok {
		return fmt.Errorf("crdt: insert %s references unknown origin %s", op.ID, op.Origin)
	}

	// Standard RGA integrate: walk past every node following the origin
	// whose ID sorts after ours — concurrent siblings and, since Lamport
	// Tags give a child a higher ID than its origin, their descendants —
	// so concurrent inserts at the same position land in the same total
	// order on every replica.
	prev := origin
	curr := origin.next

	for curr != nil && curr.ID.After(op.ID) {
		prev = curr
		curr = curr.next
	}

	node := &rgaNode{ID: op.ID, Origin: op.Origin, Value: op.Value, next: curr}
	prev.next = node
	d.index[op.ID] = node

	return nil
}

func (d *BodyDoc) applyDeleteLocked(op DeleteOp) error {
	node, ok := d.index[op.ID]
	if !ok {
		return fmt.Errorf("crdt: delete references unknown character %s", op.ID)
	}

	if node.Deleted {
		return nil
	}

	node.Deleted = true
	node.DeletedTag = op.Tag

	return nil
}

// MissingSince synthesizes the insert and delete operations a peer
// holding sv has not yet incorporated.
func (d *BodyDoc) MissingSince(sv map[string]uint64) (inserts []InsertOp, deletes []DeleteOp) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for n := d.head.next; n != nil; n = n.next {
		if missing(n.ID, sv) {
			inserts = append(inserts, InsertOp{ID: n.ID, Origin: n.Origin, Value: n.Value})
		}

		if n.Deleted && missing(n.DeletedTag, sv) {
			deletes = append(deletes, DeleteOp{ID: n.ID, Tag: n.DeletedTag})
		}
	}

	return inserts, deletes
}

// Snapshot encodes the document's complete current state — every
// node in sequence order, tombstones included — for persistence or
// for seeding a peer that holds no state at all.
func (d *BodyDoc) Snapshot() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var e encoder

	n := 0
	for c := d.head.next; c != nil; c = c.next {
		n++
	}

	e.uvarint(uint64(n))

	for c := d.head.next; c != nil; c = c.next {
		e.tag(c.ID)
		e.tag(c.Origin)
		e.uvarint(uint64(c.Value))

		deleted := byte(0)
		if c.Deleted {
			deleted = 1
		}

		e.byte(deleted)
		e.tag(c.DeletedTag)
	}

	return e.bytes()
}

// Load applies a batch produced by Snapshot to d, which must be empty.
// Nodes are replayed in their original sequence order, which for a
// snapshot of a consistent document is always a valid RGA integration
// order (every node's origin already precedes it in the list).
func (d *BodyDoc) Load(b []byte) error {
	dec := newDecoder(b)

	n, err := dec.uvarint()
	if err != nil {
		return fmt.Errorf("crdt: decoding body snapshot count: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i := uint64(0); i < n; i++ {
		id, err := dec.tag()
		if err != nil {
			return fmt.Errorf("crdt: decoding body snapshot node %d: %w", i, err)
		}

		origin, err := dec.tag()
		if err != nil {
			return fmt.Errorf("crdt: decoding body snapshot node %d: %w", i, err)
		}

		valueU, err := dec.uvarint()
		if err != nil {
			return fmt.Errorf("crdt: decoding body snapshot node %d: %w", i, err)
		}

		deletedByte, err := dec.byte()
		if err != nil {
			return fmt.Errorf("crdt: decoding body snapshot node %d: %w", i, err)
		}

		deletedTag, err := dec.tag()
		if err != nil {
			return fmt.Errorf("crdt: decoding body snapshot node %d: %w", i, err)
		}

		d.clk.observe(id)

		if deletedByte != 0 {
			d.clk.observe(deletedTag)
		}

		if err := d.applyInsertLocked(InsertOp{ID: id, Origin: origin, Value: rune(valueU)}); err != nil {
			return fmt.Errorf("crdt: replaying body snapshot node %d: %w", i, err)
		}

		if deletedByte != 0 {
			if err := d.applyDeleteLocked(DeleteOp{ID: id, Tag: deletedTag}); err != nil {
				return fmt.Errorf("crdt: replaying body snapshot tombstone %d: %w", i, err)
			}
		}
	}

	return nil
}

// EncodeInserts and EncodeDeletes serialize the ops MissingSince
// returns for the wire; DecodeInserts/DecodeDeletes reverse them.
func EncodeInserts(ops []InsertOp) []byte {
	var e encoder

	e.uvarint(uint64(len(ops)))

	for _, op := range ops {
		e.tag(op.ID)
		e.tag(op.Origin)
		e.uvarint(uint64(op.Value))
	}

	return e.bytes()
}

func DecodeInserts(b []byte) ([]InsertOp, error) {
	d := newDecoder(b)

	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}

	out := make([]InsertOp, 0, n)

	for i := uint64(0); i < n; i++ {
		id, err := d.tag()
		if err != nil {
			return nil, err
		}

		origin, err := d.tag()
		if err != nil {
			return nil, err
		}

		value, err := d.uvarint()
		if err != nil {
			return nil, err
		}

		out = append(out, InsertOp{ID: id, Origin: origin, Value: rune(value)})
	}

	return out, nil
}

func EncodeDeletes(ops []DeleteOp) []byte {
	var e encoder

	e.uvarint(uint64(len(ops)))

	for _, op := range ops {
		e.tag(op.ID)
		e.tag(op.Tag)
	}

	return e.bytes()
}

func DecodeDeletes(b []byte) ([]DeleteOp, error) {
	d := newDecoder(b)

	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}

	out := make([]DeleteOp, 0, n)

	for i := uint64(0); i < n; i++ {
		id, err := d.tag()
		if err != nil {
			return nil, err
		}

		tag, err := d.tag()
		if err != nil {
			return nil, err
		}

		out = append(out, DeleteOp{ID: id, Tag: tag})
	}

	return out, nil
}
