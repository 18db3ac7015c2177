// Package crdtfs decorates an fsabs.FS so that every local write to an
// entry file is captured into the workspace's CRDT documents: the
// frontmatter is parsed, its link fields canonicalized, and the result
// merged into the shared metadata document, while the body text is
// diffed against the entry's body document and applied as RGA
// inserts/deletes.
package crdtfs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	stdpath "path"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/noteflow/syncd/internal/crdt"
	"github.com/noteflow/syncd/internal/fsabs"
)

// Body is the subset of *crdt.BodyDoc's API crdtfs needs to reconcile a
// file write against its body document. A sync room wraps the
// underlying BodyDoc in a type that also rebroadcasts each op to
// connected peers; *crdt.BodyDoc itself satisfies Body directly for
// callers with no peers to notify.
type Body interface {
	Text() string
	LiveIDs() []crdt.Tag
	Delete(id crdt.Tag, replica string) (crdt.DeleteOp, error)
	InsertText(after crdt.Tag, text, replica string) (crdt.Tag, []crdt.InsertOp, error)
}

// Bodies gives crdtfs access to the same lazily-created body documents
// a sync room serves over the network, so a local filesystem write and
// a remote CRDT update land in the identical BodyDoc instance.
type Bodies interface {
	// Get returns the Body for path, creating an empty one if this is
	// the first access.
	Get(path string) Body
	// Reset discards any existing Body for path and returns a fresh
	// empty one, used when a legacy rename re-homes an entry's content
	// under a new key.
	Reset(path string) Body
	// Delete removes path's Body entirely, used for the rename source
	// key once its content has moved to the destination.
	Delete(path string)
}

// MetaStore is the subset of *crdt.MetaDoc's API crdtfs needs to merge
// a parsed frontmatter into the workspace metadata document. A sync
// room wraps the underlying MetaDoc in a type that also rebroadcasts
// each update to connected peers; *crdt.MetaDoc itself satisfies
// MetaStore directly for callers with no peers to notify.
type MetaStore interface {
	SetTitle(path, title, replica string) crdt.Update
	SetParent(path, parent, replica string) crdt.Update
	SetTombstone(path string, deleted bool, replica string) crdt.Update
	AddContent(path, child, replica string) crdt.Update
	RemoveContent(path, child, replica string) (crdt.Update, bool)
	AddAttachment(path, ref, replica string) crdt.Update
	RemoveAttachment(path, ref, replica string) (crdt.Update, bool)
	AddAudience(path, tag, replica string) crdt.Update
	RemoveAudience(path, tagValue, replica string) (crdt.Update, bool)
	Entry(path string) (crdt.EntryView, bool)
}

const (
	frontmatterDelim = "---"
	replicaLocal     = "local-fs"
)

// RenamePolicy carries the per-workspace settings that govern the
// atomic title rename: whether changing an entry's title renames its
// file at all, what filename convention the new name follows, and
// whether the body's first H1 heading is kept in sync with the title.
type RenamePolicy struct {
	AutoRenameToTitle  bool
	FilenameStyle      string
	SyncTitleToHeading bool
}

var tempSuffixes = []string{".tmp", ".bak", ".swap"}

type frontmatter struct {
	Title       string            `yaml:"title"`
	PartOf      string            `yaml:"part_of"`
	Contents    []string          `yaml:"contents"`
	Attachments []attachmentEntry `yaml:"attachments"`
	Audience    []string          `yaml:"audience"`
}

type attachmentEntry struct {
	Hash     string `yaml:"hash"`
	Size     int64  `yaml:"size"`
	Mime     string `yaml:"mime"`
	Filename string `yaml:"filename"`
}

// FS decorates an underlying fsabs.FS, capturing every write whose
// path names a markdown entry into meta and the corresponding body
// document from bodies. replica identifies this server process as a
// CRDT author — distinct from any connected device's replica ID,
// since a local filesystem write (a user editing with their own
// editor, or a sync-write application from elsewhere) must still carry
// some Tag authorship.
type FS struct {
	fsabs.FS

	meta     MetaStore
	bodies   Bodies
	resolver crdt.Resolver
	replica  string
	policy   RenamePolicy
	logger   *slog.Logger

	mu         sync.Mutex
	suppressed map[string]int
}

// New wraps inner with CRDT capture. logger may be nil. replica, if
// empty, defaults to "local-fs". policy governs SetTitle's
// rename-on-title-change behavior; a zero-value policy leaves title
// changes in place.
func New(inner fsabs.FS, meta MetaStore, bodies Bodies, resolver crdt.Resolver, replica string, policy RenamePolicy, logger *slog.Logger) *FS {
	if logger == nil {
		logger = slog.Default()
	}

	if replica == "" {
		replica = replicaLocal
	}

	return &FS{
		FS:         inner,
		meta:       meta,
		bodies:     bodies,
		resolver:   resolver,
		replica:    replica,
		policy:     policy,
		logger:     logger,
		suppressed: make(map[string]int),
	}
}

func isTempPath(path string) bool {
	for _, suffix := range tempSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}

	return false
}

// MarkSyncWriteStart suppresses CRDT capture for path: the write about
// to happen is the sync engine applying a remote update to local
// storage, and capturing it would feed the update straight back into
// the CRDT layer as a new local edit.
func (f *FS) MarkSyncWriteStart(path string) {
	f.mu.Lock()
	f.suppressed[path]++
	f.mu.Unlock()

	f.FS.MarkSyncWriteStart(path)
}

func (f *FS) MarkSyncWriteEnd(path string) {
	f.mu.Lock()
	if f.suppressed[path] > 0 {
		f.suppressed[path]--
		if f.suppressed[path] == 0 {
			delete(f.suppressed, path)
		}
	}
	f.mu.Unlock()

	f.FS.MarkSyncWriteEnd(path)
}

func (f *FS) isSuppressed(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.suppressed[path] > 0
}

func (f *FS) Write(ctx context.Context, path string, data []byte) error {
	if err := f.FS.Write(ctx, path, data); err != nil {
		return err
	}

	if isTempPath(path) || f.isSuppressed(path) {
		return nil
	}

	return f.capture(path, data)
}

// Move performs the underlying rename and then applies the
// tombstone+create handling every rename uses here, since entry keys
// are workspace-relative paths rather than stable identifiers: the
// source key is tombstoned, a fresh entry is built from the
// destination's current content, and the body document is reset under
// the destination key rather than carried over, so metadata and
// body-sync doc paths stay aligned with a single canonical key per
// entry.
func (f *FS) Move(ctx context.Context, oldPath, newPath string) error {
	if err := f.FS.Move(ctx, oldPath, newPath); err != nil {
		return err
	}

	if f.isSuppressed(newPath) {
		return nil
	}

	oldCanon := crdt.NormalizePath(oldPath)
	newCanon := crdt.NormalizePath(newPath)

	f.meta.SetTombstone(oldCanon, true, f.replica)
	f.bodies.Delete(oldCanon)
	f.bodies.Reset(newCanon)

	data, err := f.FS.Read(ctx, newPath)
	if err != nil {
		return fmt.Errorf("crdtfs: reading renamed entry %s: %w", newPath, err)
	}

	return f.capture(newPath, data)
}

// SetTitle changes an entry's title property and, when the workspace's
// RenamePolicy enables it, renames the underlying file to match:
// computes the new filename from FilenameStyle, moves the file
// (cascading to the metadata-doc key and body doc the same way Move
// does), writes the new title, and rewrites the body's first H1 when
// SyncTitleToHeading is set. It returns the entry's final path. An
// error before the retitled file is written leaves the entry where it
// was; a failure to delete the old file after a rename is logged, not
// returned.
func (f *FS) SetTitle(ctx context.Context, path, title string) (string, error) {
	data, err := f.FS.Read(ctx, path)
	if err != nil {
		return "", fmt.Errorf("crdtfs: reading %s: %w", path, err)
	}

	rawFrontmatter, body, ok := splitFrontmatter(data)
	if !ok {
		return "", fmt.Errorf("crdtfs: %s has no frontmatter to set a title on", path)
	}

	newFrontmatter, err := setFrontmatterTitle(rawFrontmatter, title)
	if err != nil {
		return "", fmt.Errorf("crdtfs: rewriting frontmatter: %w", err)
	}

	if f.policy.SyncTitleToHeading {
		body = rewriteFirstHeading(body, title)
	}

	newContent := assembleFrontmatter(newFrontmatter, body)

	canon := crdt.NormalizePath(path)
	newPath := path

	if f.policy.AutoRenameToTitle {
		if candidate := retitledPath(canon, title, f.policy.FilenameStyle); candidate != canon && candidate != "" {
			newPath = candidate
		}
	}

	if newPath == path {
		if err := f.FS.Write(ctx, path, newContent); err != nil {
			return "", err
		}

		return path, f.capture(path, newContent)
	}

	if err := f.FS.Write(ctx, newPath, newContent); err != nil {
		return "", fmt.Errorf("crdtfs: writing renamed entry %s: %w", newPath, err)
	}

	if err := f.FS.Delete(ctx, path); err != nil {
		f.logger.Warn("crdtfs: failed to remove old path after title rename",
			slog.String("path", path), slog.String("error", err.Error()))
	}

	newCanon := crdt.NormalizePath(newPath)

	f.meta.SetTombstone(canon, true, f.replica)
	f.bodies.Delete(canon)
	f.bodies.Reset(newCanon)

	if err := f.capture(newPath, newContent); err != nil {
		return "", err
	}

	return newPath, nil
}

// retitledPath computes the new workspace-relative path a title rename
// produces, keeping canon's directory and extension. Returns "" if
// style is unrecognized (currently only kebab-case is supported).
func retitledPath(canon, title, style string) string {
	var slug string

	switch style {
	case "kebab-case", "":
		slug = kebabCase(title)
	default:
		return ""
	}

	if slug == "" {
		return ""
	}

	dir := stdpath.Dir(canon)
	ext := stdpath.Ext(canon)
	if ext == "" {
		ext = ".md"
	}

	if dir == "." {
		return slug + ext
	}

	return dir + "/" + slug + ext
}

// kebabCase lowercases title and replaces every run of non-alphanumeric
// characters with a single hyphen, trimming leading/trailing hyphens.
func kebabCase(title string) string {
	var b strings.Builder

	lastHyphen := true

	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	return strings.Trim(b.String(), "-")
}

// rewriteFirstHeading replaces the first top-level "# ..." line in body
// with "# "+title. Leaves body untouched if no H1 line is found, since
// inserting one would invent structure the entry never had.
func rewriteFirstHeading(body []byte, title string) []byte {
	lines := strings.Split(string(body), "\n")

	for i, line := range lines {
		if strings.HasPrefix(line, "# ") || line == "#" {
			lines[i] = "# " + title
			return []byte(strings.Join(lines, "\n"))
		}
	}

	return body
}

// setFrontmatterTitle parses raw YAML frontmatter, sets its title key,
// and re-serializes it.
func setFrontmatterTitle(raw []byte, title string) ([]byte, error) {
	var fields map[string]any
	if err := yaml.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	if fields == nil {
		fields = make(map[string]any)
	}

	fields["title"] = title

	return yaml.Marshal(fields)
}

// assembleFrontmatter reassembles a frontmatter block and body back
// into one entry file's bytes.
func assembleFrontmatter(frontmatter, body []byte) []byte {
	var out bytes.Buffer

	out.WriteString(frontmatterDelim)
	out.WriteByte('\n')
	out.Write(frontmatter)

	if len(frontmatter) == 0 || frontmatter[len(frontmatter)-1] != '\n' {
		out.WriteByte('\n')
	}

	out.WriteString(frontmatterDelim)
	out.WriteByte('\n')
	out.Write(body)

	return out.Bytes()
}

func (f *FS) Delete(ctx context.Context, path string) error {
	if err := f.FS.Delete(ctx, path); err != nil {
		return err
	}

	if isTempPath(path) || f.isSuppressed(path) {
		return nil
	}

	f.meta.SetTombstone(crdt.NormalizePath(path), true, f.replica)

	return nil
}

// capture parses an entry's current on-disk content and merges it
// into the metadata and body documents for its canonical path.
func (f *FS) capture(path string, data []byte) error {
	canon := crdt.NormalizePath(path)

	rawFrontmatter, body, ok := splitFrontmatter(data)
	if !ok {
		// Not a frontmatter-bearing entry (an attachment, an index
		// file without metadata); nothing for the CRDT layer to do.
		return nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal(rawFrontmatter, &raw); err != nil {
		f.logger.Warn("crdtfs: skipping unparseable frontmatter", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}

	var fm frontmatter
	if err := yaml.Unmarshal(rawFrontmatter, &fm); err != nil {
		f.logger.Warn("crdtfs: skipping unparseable frontmatter", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}

	existing, _ := f.meta.Entry(canon)

	f.meta.SetTitle(canon, fm.Title, f.replica)

	if fm.PartOf != "" {
		if parent, err := f.resolver.Canonicalize(canon, fm.PartOf); err == nil {
			f.meta.SetParent(canon, parent, f.replica)
		}
	}

	desiredContents := f.resolver.CanonicalizeAll(canon, fm.Contents)
	reconcileSet(existing.Contents, desiredContents,
		func(v string) { f.meta.AddContent(canon, v, f.replica) },
		func(v string) { f.meta.RemoveContent(canon, v, f.replica) },
	)

	_, hasAttachments := raw["attachments"]

	desiredAttachments := resolveAttachments(existing.Attachments, fm.Attachments, hasAttachments)
	reconcileSet(existing.Attachments, desiredAttachments,
		func(v string) { f.meta.AddAttachment(canon, v, f.replica) },
		func(v string) { f.meta.RemoveAttachment(canon, v, f.replica) },
	)

	reconcileSet(existing.Audience, fm.Audience,
		func(v string) { f.meta.AddAudience(canon, v, f.replica) },
		func(v string) { f.meta.RemoveAudience(canon, v, f.replica) },
	)

	return applyBodyDiff(f.bodies.Get(canon), body, f.replica)
}

// reconcileSet adds every member of desired missing from existing and
// removes every member of existing missing from desired.
func reconcileSet(existing, desired []string, add, remove func(value string)) {
	existingSet := toSet(existing)
	desiredSet := toSet(desired)

	for _, v := range desired {
		if !existingSet[v] {
			add(v)
		}
	}

	for _, v := range existing {
		if !desiredSet[v] {
			remove(v)
		}
	}
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}

	return out
}

// resolveAttachments applies the two preservation rules: an entirely
// omitted attachments key keeps the existing set untouched, and a
// present entry with an empty hash is resolved against the existing
// set by filename rather than treated as a new, hash-less ref.
func resolveAttachments(existing []string, entries []attachmentEntry, hadKey bool) []string {
	if !hadKey {
		return existing
	}

	existingByFilename := make(map[string]string, len(existing))
	for _, enc := range existing {
		hash, filename := DecodeAttachmentRef(enc)
		existingByFilename[filename] = hash
	}

	out := make([]string, 0, len(entries))

	for _, a := range entries {
		hash := a.Hash
		if hash == "" {
			matched, ok := existingByFilename[a.Filename]
			if !ok {
				continue
			}

			hash = matched
		}

		out = append(out, EncodeAttachmentRef(hash, a.Filename))
	}

	return out
}

// EncodeAttachmentRef packs a blob hash and its filename into the
// single string the Attachments OR-Set stores per member, exported so
// callers outside this package (snapshot export/import) can read the
// same refs the metadata doc holds.
func EncodeAttachmentRef(hash, filename string) string {
	return hash + "\x00" + filename
}

// DecodeAttachmentRef reverses EncodeAttachmentRef.
func DecodeAttachmentRef(encoded string) (hash, filename string) {
	hash, filename, _ = strings.Cut(encoded, "\x00")
	return hash, filename
}

// splitFrontmatter separates a "---\n...\n---\n" YAML block from the
// markdown body that follows it. ok is false if data does not open
// with a frontmatter delimiter.
func splitFrontmatter(data []byte) (fm, body []byte, ok bool) {
	const delim = frontmatterDelim + "\n"

	if !bytes.HasPrefix(data, []byte(delim)) {
		return nil, nil, false
	}

	rest := data[len(delim):]

	end := bytes.Index(rest, []byte("\n"+frontmatterDelim))
	if end < 0 {
		return nil, nil, false
	}

	fm = rest[:end]

	afterClose := rest[end+len("\n"+frontmatterDelim):]
	afterClose = bytes.TrimPrefix(afterClose, []byte("\n"))

	return fm, afterClose, true
}

// applyBodyDiff reconciles body's current text with want by deleting
// the smallest differing middle range and inserting the new text in
// its place, via the common-prefix/common-suffix trim every
// single-writer text-replacement diff reduces to.
func applyBodyDiff(body Body, want []byte, replica string) error {
	oldText := []rune(body.Text())
	newText := []rune(string(want))

	prefixLen := 0
	for prefixLen < len(oldText) && prefixLen < len(newText) && oldText[prefixLen] == newText[prefixLen] {
		prefixLen++
	}

	suffixLen := 0
	for suffixLen < len(oldText)-prefixLen && suffixLen < len(newText)-prefixLen &&
		oldText[len(oldText)-1-suffixLen] == newText[len(newText)-1-suffixLen] {
		suffixLen++
	}

	if prefixLen == len(oldText) && prefixLen == len(newText) {
		return nil // identical, nothing to do
	}

	ids := body.LiveIDs()

	deleteFrom := prefixLen
	deleteTo := len(oldText) - suffixLen

	for i := deleteFrom; i < deleteTo; i++ {
		if _, err := body.Delete(ids[i], replica); err != nil {
			return fmt.Errorf("crdtfs: deleting rune %d: %w", i, err)
		}
	}

	insertText := string(newText[prefixLen : len(newText)-suffixLen])
	if insertText == "" {
		return nil
	}

	anchor := crdt.Tag{}
	if prefixLen > 0 {
		anchor = ids[prefixLen-1]
	}

	if _, _, err := body.InsertText(anchor, insertText, replica); err != nil {
		return fmt.Errorf("crdtfs: inserting text: %w", err)
	}

	return nil
}

var _ fsabs.FS = (*FS)(nil)
