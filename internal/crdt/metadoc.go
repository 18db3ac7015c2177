package crdt

import (
	"fmt"
	"sort"
	"sync"
)

// Field identifies which part of an entry an Update touches.
type Field byte

const (
	FieldTombstone Field = iota + 1
	FieldTitle
	FieldPartOf
	FieldContentsAdd
	FieldContentsRemove
	FieldAttachmentsAdd
	FieldAttachmentsRemove
	FieldAudienceAdd
	FieldAudienceRemove
)

// Update is one mutation to a MetaDoc: either a new value for an
// LWW-register field (Tombstone, Title, PartOf) or an add/remove
// operation on one of the OR-Set fields (Contents, Attachments,
// Audience). It is both the unit exchanged between replicas during
// sync and the unit MetaDoc.MissingSince synthesizes from current
// state for a peer that never saw the original operation.
type Update struct {
	Path  string
	Field Field
	Tag   Tag

	Str  string // Title, PartOf, and *Add element value
	Bool bool   // Tombstone value

	// RemovedTags names, for a *Remove update, the add-operation Tags
	// being removed from the OR-Set — not Tag itself, which identifies
	// the remove operation so it can be deduplicated and resynced like
	// any other op.
	RemovedTags []Tag
}

type lww[T any] struct {
	Tag   Tag
	Value T
	set   bool
}

func (l *lww[T]) apply(tag Tag, value T) bool {
	if !l.set || tag.After(l.Tag) {
		l.Tag = tag
		l.Value = value
		l.set = true

		return true
	}

	return false
}

// orSet is an add-wins observed-remove set: every add carries a unique
// Tag, and a remove names the specific add-Tags it is retracting
// (those the remover had observed), so an add concurrent with a remove
// that did not see it survives.
type orSet struct {
	live        map[Tag]string
	removedAdds map[Tag]bool
	tombstones  map[Tag][]Tag // remove-op Tag -> add Tags it removed
}

func newOrSet() orSet {
	return orSet{
		live:        make(map[Tag]string),
		removedAdds: make(map[Tag]bool),
		tombstones:  make(map[Tag][]Tag),
	}
}

func (s *orSet) add(tag Tag, value string) {
	if s.removedAdds[tag] {
		return
	}

	s.live[tag] = value
}

func (s *orSet) remove(opTag Tag, addTags []Tag) {
	for _, t := range addTags {
		s.removedAdds[t] = true
		delete(s.live, t)
	}

	s.tombstones[opTag] = addTags
}

// values returns the set's current distinct members ordered by the
// Tag of the add operation that introduced each one. Frontmatter lists
// like contents and attachments are declared "ordered" in the
// single-writer case; approximating that order by insertion sequence
// rather than by value keeps a reordering-free workflow stable without
// a second sequence CRDT just for list position.
func (s *orSet) values() []string {
	type entry struct {
		tag   Tag
		value string
	}

	ordered := make([]entry, 0, len(s.live))

	for t, v := range s.live {
		ordered = append(ordered, entry{tag: t, value: v})
	}

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].tag.Counter != ordered[j].tag.Counter {
			return ordered[i].tag.Counter < ordered[j].tag.Counter
		}

		return ordered[i].tag.Replica < ordered[j].tag.Replica
	})

	seen := make(map[string]bool, len(ordered))

	out := make([]string, 0, len(ordered))
	for _, e := range ordered {
		if !seen[e.value] {
			seen[e.value] = true

			out = append(out, e.value)
		}
	}

	return out
}

// tagsFor returns the add-Tags currently live for value, used to build
// a remove operation against everything the caller can see.
func (s *orSet) tagsFor(value string) []Tag {
	var tags []Tag

	for t, v := range s.live {
		if v == value {
			tags = append(tags, t)
		}
	}

	return tags
}

type entryState struct {
	Tombstone   lww[bool]
	Title       lww[string]
	PartOf      lww[string]
	Contents    orSet
	Attachments orSet
	Audience    orSet
}

func newEntryState() *entryState {
	return &entryState{
		Contents:    newOrSet(),
		Attachments: newOrSet(),
		Audience:    newOrSet(),
	}
}

// EntryView is a read-only snapshot of one path's current metadata,
// returned by MetaDoc.Entry for callers that just want the resolved
// state rather than the CRDT internals.
type EntryView struct {
	Path        string
	Deleted     bool
	Title       string
	PartOf      string
	Contents    []string
	Attachments []string
	Audience    []string
}

// MetaDoc is the workspace-wide metadata CRDT: one entryState per
// canonical path, each field independently resolved by last-writer-wins
// or OR-Set merge. It is safe for concurrent use.
type MetaDoc struct {
	mu      sync.RWMutex
	entries map[string]*entryState
	clk     clock
}

// NewMetaDoc returns an empty MetaDoc.
func NewMetaDoc() *MetaDoc {
	return &MetaDoc{entries: make(map[string]*entryState), clk: newClock()}
}

func (d *MetaDoc) entry(path string) *entryState {
	e, ok := d.entries[path]
	if !ok {
		e = newEntryState()
		d.entries[path] = e
	}

	return e
}

// StateVector returns the highest operation counter seen per replica,
// the first half of the sync handshake.
func (d *MetaDoc) StateVector() map[string]uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.clk.vector()
}

// MissingSince synthesizes the Updates a peer holding sv has not yet
// incorporated, derived from current state rather than a retained
// operation log — correct for a state-based CRDT since only the
// latest value of an LWW field and the current live/tombstoned
// membership of an OR-Set matter, never the history that produced
// them.
func (d *MetaDoc) MissingSince(sv map[string]uint64) []Update {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Update

	for path, e := range d.entries {
		if e.Tombstone.set && missing(e.Tombstone.Tag, sv) {
			out = append(out, Update{Path: path, Field: FieldTombstone, Tag: e.Tombstone.Tag, Bool: e.Tombstone.Value})
		}

		if e.Title.set && missing(e.Title.Tag, sv) {
			out = append(out, Update{Path: path, Field: FieldTitle, Tag: e.Title.Tag, Str: e.Title.Value})
		}

		if e.PartOf.set && missing(e.PartOf.Tag, sv) {
			out = append(out, Update{Path: path, Field: FieldPartOf, Tag: e.PartOf.Tag, Str: e.PartOf.Value})
		}

		out = append(out, missingOrSet(path, FieldContentsAdd, FieldContentsRemove, &e.Contents, sv)...)
		out = append(out, missingOrSet(path, FieldAttachmentsAdd, FieldAttachmentsRemove, &e.Attachments, sv)...)
		out = append(out, missingOrSet(path, FieldAudienceAdd, FieldAudienceRemove, &e.Audience, sv)...)
	}

	return out
}

func missingOrSet(path string, addField, removeField Field, s *orSet, sv map[string]uint64) []Update {
	var out []Update

	for tag, value := range s.live {
		if missing(tag, sv) {
			out = append(out, Update{Path: path, Field: addField, Tag: tag, Str: value})
		}
	}

	for opTag, addTags := range s.tombstones {
		if missing(opTag, sv) {
			out = append(out, Update{Path: path, Field: removeField, Tag: opTag, RemovedTags: addTags})
		}
	}

	return out
}

// Apply merges a remote Update into the document. It returns whether
// the update changed resolved state (false for a stale LWW write or an
// unknown field), which callers use to decide whether to rebroadcast it
// to other peers. OR-Set adds and removes always report true, even when
// the update was already incorporated.
func (d *MetaDoc) Apply(u Update) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.applyLocked(u)
}

func (d *MetaDoc) applyLocked(u Update) bool {
	d.clk.observe(u.Tag)

	e := d.entry(u.Path)

	switch u.Field {
	case FieldTombstone:
		return e.Tombstone.apply(u.Tag, u.Bool)
	case FieldTitle:
		return e.Title.apply(u.Tag, u.Str)
	case FieldPartOf:
		return e.PartOf.apply(u.Tag, u.Str)
	case FieldContentsAdd:
		e.Contents.add(u.Tag, u.Str)
		return true
	case FieldContentsRemove:
		e.Contents.remove(u.Tag, u.RemovedTags)
		return true
	case FieldAttachmentsAdd:
		e.Attachments.add(u.Tag, u.Str)
		return true
	case FieldAttachmentsRemove:
		e.Attachments.remove(u.Tag, u.RemovedTags)
		return true
	case FieldAudienceAdd:
		e.Audience.add(u.Tag, u.Str)
		return true
	case FieldAudienceRemove:
		e.Audience.remove(u.Tag, u.RemovedTags)
		return true
	default:
		return false
	}
}

// SetTitle records a new title for path, authored by replica.
func (d *MetaDoc) SetTitle(path, title, replica string) Update {
	d.mu.Lock()
	defer d.mu.Unlock()

	u := Update{Path: path, Field: FieldTitle, Tag: d.clk.next(replica), Str: title}
	d.applyLocked(u)

	return u
}

// SetParent records path's part_of value: the path of the entry that
// contains it (empty string when it has none).
func (d *MetaDoc) SetParent(path, parent, replica string) Update {
	d.mu.Lock()
	defer d.mu.Unlock()

	u := Update{Path: path, Field: FieldPartOf, Tag: d.clk.next(replica), Str: parent}
	d.applyLocked(u)

	return u
}

// SetTombstone marks path deleted (or, with deleted=false, undeleted —
// restoring from trash reuses the same register).
func (d *MetaDoc) SetTombstone(path string, deleted bool, replica string) Update {
	d.mu.Lock()
	defer d.mu.Unlock()

	u := Update{Path: path, Field: FieldTombstone, Tag: d.clk.next(replica), Bool: deleted}
	d.applyLocked(u)

	return u
}

// AddContent adds child to path's set of contained entries.
func (d *MetaDoc) AddContent(path, child, replica string) Update {
	return d.addToSet(path, FieldContentsAdd, child, replica)
}

// RemoveContent retracts child from path's set of contained entries.
// It returns ok=false if child is not currently a live member, meaning
// there is nothing for this replica to remove.
func (d *MetaDoc) RemoveContent(path, child, replica string) (Update, bool) {
	return d.removeFromSet(path, FieldContentsRemove, func(e *entryState) *orSet { return &e.Contents }, child, replica)
}

// AddAttachment adds ref (an opaque string; crdtfs stores the content
// hash and filename joined by a NUL byte) to path's attachment set.
func (d *MetaDoc) AddAttachment(path, ref, replica string) Update {
	return d.addToSet(path, FieldAttachmentsAdd, ref, replica)
}

// RemoveAttachment retracts ref from path's attachment set.
func (d *MetaDoc) RemoveAttachment(path, ref, replica string) (Update, bool) {
	return d.removeFromSet(path, FieldAttachmentsRemove, func(e *entryState) *orSet { return &e.Attachments }, ref, replica)
}

// AddAudience tags path with an audience label.
func (d *MetaDoc) AddAudience(path, tag, replica string) Update {
	return d.addToSet(path, FieldAudienceAdd, tag, replica)
}

// RemoveAudience removes an audience label from path.
func (d *MetaDoc) RemoveAudience(path, tagValue, replica string) (Update, bool) {
	return d.removeFromSet(path, FieldAudienceRemove, func(e *entryState) *orSet { return &e.Audience }, tagValue, replica)
}

func (d *MetaDoc) addToSet(path string, field Field, value, replica string) Update {
	d.mu.Lock()
	defer d.mu.Unlock()

	u := Update{Path: path, Field: field, Tag: d.clk.next(replica), Str: value}
	d.applyLocked(u)

	return u
}

func (d *MetaDoc) removeFromSet(path string, field Field, pick func(*entryState) *orSet, value, replica string) (Update, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.entry(path)

	tags := pick(e).tagsFor(value)
	if len(tags) == 0 {
		return Update{}, false
	}

	u := Update{Path: path, Field: field, Tag: d.clk.next(replica), RemovedTags: tags}
	d.applyLocked(u)

	return u, true
}

// Entry returns a read-only view of path's resolved state. The second
// return value is false if path has never been touched.
func (d *MetaDoc) Entry(path string) (EntryView, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.entries[path]
	if !ok {
		return EntryView{}, false
	}

	return EntryView{
		Path:        path,
		Deleted:     e.Tombstone.Value,
		Title:       e.Title.Value,
		PartOf:      e.PartOf.Value,
		Contents:    e.Contents.values(),
		Attachments: e.Attachments.values(),
		Audience:    e.Audience.values(),
	}, true
}

// Paths returns every path the document has ever seen a field write
// for, including tombstoned ones. Order is unspecified.
func (d *MetaDoc) Paths() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.entries))
	for p := range d.entries {
		out = append(out, p)
	}

	return out
}

// EncodeUpdates serializes a batch of Updates for the wire or for
// persistence; DecodeUpdates reverses it.
func EncodeUpdates(updates []Update) []byte {
	var e encoder

	e.uvarint(uint64(len(updates)))

	for _, u := range updates {
		encodeUpdate(&e, u)
	}

	return e.bytes()
}

func encodeUpdate(e *encoder, u Update) {
	e.stringField(u.Path)
	e.byte(byte(u.Field))
	e.tag(u.Tag)

	switch u.Field {
	case FieldTombstone:
		b := byte(0)
		if u.Bool {
			b = 1
		}

		e.byte(b)
	case FieldTitle, FieldPartOf, FieldContentsAdd, FieldAttachmentsAdd, FieldAudienceAdd:
		e.stringField(u.Str)
	case FieldContentsRemove, FieldAttachmentsRemove, FieldAudienceRemove:
		e.uvarint(uint64(len(u.RemovedTags)))

		for _, t := range u.RemovedTags {
			e.tag(t)
		}
	}
}

// DecodeUpdates parses a batch produced by EncodeUpdates.
func DecodeUpdates(b []byte) ([]Update, error) {
	d := newDecoder(b)

	n, err := d.uvarint()
	if err != nil {
		return nil, fmt.Errorf("crdt: decoding update count: %w", err)
	}

	out := make([]Update, 0, n)

	for i := uint64(0); i < n; i++ {
		u, err := decodeUpdate(d)
		if err != nil {
			return nil, fmt.Errorf("crdt: decoding update %d: %w", i, err)
		}

		out = append(out, u)
	}

	return out, nil
}

func decodeUpdate(d *decoder) (Update, error) {
	path, err := d.stringField()
	if err != nil {
		return Update{}, err
	}

	fieldByte, err := d.byte()
	if err != nil {
		return Update{}, err
	}

	tag, err := d.tag()
	if err != nil {
		return Update{}, err
	}

	u := Update{Path: path, Field: Field(fieldByte), Tag: tag}

	switch u.Field {
	case FieldTombstone:
		b, err := d.byte()
		if err != nil {
			return Update{}, err
		}

		u.Bool = b != 0
	case FieldTitle, FieldPartOf, FieldContentsAdd, FieldAttachmentsAdd, FieldAudienceAdd:
		s, err := d.stringField()
		if err != nil {
			return Update{}, err
		}

		u.Str = s
	case FieldContentsRemove, FieldAttachmentsRemove, FieldAudienceRemove:
		n, err := d.uvarint()
		if err != nil {
			return Update{}, err
		}

		tags := make([]Tag, 0, n)

		for i := uint64(0); i < n; i++ {
			t, err := d.tag()
			if err != nil {
				return Update{}, err
			}

			tags = append(tags, t)
		}

		u.RemovedTags = tags
	default:
		return Update{}, fmt.Errorf("crdt: unknown field byte %d", fieldByte)
	}

	return u, nil
}

// Snapshot encodes the document's complete current state as an update
// batch relative to an empty state vector — the same representation
// MissingSince(nil) would produce for a brand-new peer. Load applies
// such a batch to an empty MetaDoc, used to restore persisted state
// and to seed a room joining a workspace for the first time.
func (d *MetaDoc) Snapshot() []byte {
	return EncodeUpdates(d.MissingSince(nil))
}

// Load applies a batch produced by Snapshot (or by any MissingSince
// call) to d, which must be empty.
func (d *MetaDoc) Load(b []byte) error {
	updates, err := DecodeUpdates(b)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range updates {
		d.applyLocked(u)
	}

	return nil
}
