package crdtfs

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteflow/syncd/internal/crdt"
	"github.com/noteflow/syncd/internal/fsabs/memfs"
)

type fakeBodies struct {
	mu   sync.Mutex
	docs map[string]*crdt.BodyDoc
}

func newFakeBodies() *fakeBodies {
	return &fakeBodies{docs: make(map[string]*crdt.BodyDoc)}
}

func (b *fakeBodies) Get(path string) Body {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d, ok := b.docs[path]; ok {
		return d
	}

	d := crdt.NewBodyDoc()
	b.docs[path] = d

	return d
}

func (b *fakeBodies) Reset(path string) Body {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := crdt.NewBodyDoc()
	b.docs[path] = d

	return d
}

func (b *fakeBodies) Delete(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.docs, path)
}

func newTestFS() (*FS, *fakeBodies, *crdt.MetaDoc) {
	return newTestFSWithPolicy(RenamePolicy{})
}

func newTestFSWithPolicy(policy RenamePolicy) (*FS, *fakeBodies, *crdt.MetaDoc) {
	inner := memfs.New(nil)
	meta := crdt.NewMetaDoc()
	bodies := newFakeBodies()
	resolver := crdt.Resolver{Exists: func(string) bool { return false }}

	return New(inner, meta, bodies, resolver, "test-replica", policy, nil), bodies, meta
}

const sampleEntry = "---\n" +
	"title: Morning Pages\n" +
	"part_of: journal.md\n" +
	"audience:\n" +
	"  - family\n" +
	"---\n" +
	"Today was good.\n"

func TestFS_Write_CapturesFrontmatterIntoMetaDoc(t *testing.T) {
	t.Parallel()

	fs, _, meta := newTestFS()

	require.NoError(t, fs.Write(context.Background(), "journal/2026-01-01.md", []byte(sampleEntry)))

	entry, ok := meta.Entry("journal/2026-01-01.md")
	require.True(t, ok)
	assert.Equal(t, "Morning Pages", entry.Title)
	assert.Equal(t, "journal/journal.md", entry.PartOf)
	assert.Equal(t, []string{"family"}, entry.Audience)
}

func TestFS_Write_CapturesBodyIntoBodyDoc(t *testing.T) {
	t.Parallel()

	fs, bodies, _ := newTestFS()

	require.NoError(t, fs.Write(context.Background(), "journal/a.md", []byte(sampleEntry)))

	body := bodies.Get("journal/a.md")
	assert.Equal(t, "Today was good.\n", body.Text())
}

func TestFS_Write_SecondWriteDiffsBody(t *testing.T) {
	t.Parallel()

	fs, bodies, _ := newTestFS()
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "journal/a.md", []byte(sampleEntry)))

	updated := "---\n" +
		"title: Morning Pages\n" +
		"part_of: journal.md\n" +
		"---\n" +
		"Today was great.\n"

	require.NoError(t, fs.Write(ctx, "journal/a.md", []byte(updated)))

	assert.Equal(t, "Today was great.\n", bodies.Get("journal/a.md").Text())
}

func TestFS_Write_AttachmentsOmitted_PreservesExisting(t *testing.T) {
	t.Parallel()

	fs, _, meta := newTestFS()
	ctx := context.Background()

	withAttachment := "---\n" +
		"title: Trip\n" +
		"attachments:\n" +
		"  - hash: sha256:abc\n" +
		"    filename: photo.jpg\n" +
		"---\n" +
		"Body.\n"

	require.NoError(t, fs.Write(ctx, "trip.md", []byte(withAttachment)))

	entry, _ := meta.Entry("trip.md")
	require.Len(t, entry.Attachments, 1)

	withoutAttachmentsKey := "---\n" +
		"title: Trip\n" +
		"---\n" +
		"Body.\n"

	require.NoError(t, fs.Write(ctx, "trip.md", []byte(withoutAttachmentsKey)))

	entry, _ = meta.Entry("trip.md")
	assert.Len(t, entry.Attachments, 1, "omitted attachments key must preserve the existing set")
}

func TestFS_Write_AttachmentEmptyHash_PreservesMatchingRef(t *testing.T) {
	t.Parallel()

	fs, _, meta := newTestFS()
	ctx := context.Background()

	withAttachment := "---\n" +
		"attachments:\n" +
		"  - hash: sha256:abc\n" +
		"    filename: photo.jpg\n" +
		"---\n" +
		"Body.\n"

	require.NoError(t, fs.Write(ctx, "trip.md", []byte(withAttachment)))

	emptyHash := "---\n" +
		"attachments:\n" +
		"  - hash: \"\"\n" +
		"    filename: photo.jpg\n" +
		"---\n" +
		"Body.\n"

	require.NoError(t, fs.Write(ctx, "trip.md", []byte(emptyHash)))

	entry, _ := meta.Entry("trip.md")
	require.Len(t, entry.Attachments, 1)
	assert.Equal(t, EncodeAttachmentRef("sha256:abc", "photo.jpg"), entry.Attachments[0])
}

func TestFS_Write_TempPathSkipsCapture(t *testing.T) {
	t.Parallel()

	fs, _, meta := newTestFS()

	require.NoError(t, fs.Write(context.Background(), "journal/a.md.tmp", []byte(sampleEntry)))

	_, ok := meta.Entry("journal/a.md.tmp")
	assert.False(t, ok)
}

func TestFS_Write_SuppressedUnderSyncWriteMarker(t *testing.T) {
	t.Parallel()

	fs, _, meta := newTestFS()

	fs.MarkSyncWriteStart("journal/a.md")
	require.NoError(t, fs.Write(context.Background(), "journal/a.md", []byte(sampleEntry)))
	fs.MarkSyncWriteEnd("journal/a.md")

	_, ok := meta.Entry("journal/a.md")
	assert.False(t, ok, "a write under a sync-write marker must not be captured")
}

func TestFS_Delete_Tombstones(t *testing.T) {
	t.Parallel()

	fs, _, meta := newTestFS()
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "journal/a.md", []byte(sampleEntry)))
	require.NoError(t, fs.Delete(ctx, "journal/a.md"))

	entry, ok := meta.Entry("journal/a.md")
	require.True(t, ok)
	assert.True(t, entry.Deleted)
}

func TestFS_Move_TombstonesSourceAndResetsBody(t *testing.T) {
	t.Parallel()

	fs, bodies, meta := newTestFS()
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "journal/old.md", []byte(sampleEntry)))
	require.NoError(t, fs.Move(ctx, "journal/old.md", "journal/new.md"))

	oldEntry, _ := meta.Entry("journal/old.md")
	assert.True(t, oldEntry.Deleted)

	newEntry, ok := meta.Entry("journal/new.md")
	require.True(t, ok)
	assert.Equal(t, "Morning Pages", newEntry.Title)

	assert.Equal(t, "Today was good.\n", bodies.Get("journal/new.md").Text())
}

func TestResolveAttachments_MissingMatchIsDropped(t *testing.T) {
	t.Parallel()

	out := resolveAttachments(nil, []attachmentEntry{{Hash: "", Filename: "ghost.jpg"}}, true)
	assert.Empty(t, out)
}

func TestSplitFrontmatter(t *testing.T) {
	t.Parallel()

	fm, body, ok := splitFrontmatter([]byte(sampleEntry))
	require.True(t, ok)
	assert.Contains(t, string(fm), "title: Morning Pages")
	assert.Equal(t, "Today was good.\n", string(body))
}

func TestSplitFrontmatter_NoDelimiter(t *testing.T) {
	t.Parallel()

	_, _, ok := splitFrontmatter([]byte("just a plain file\n"))
	assert.False(t, ok)
}

const titledEntry = "---\n" +
	"title: 2024-01\n" +
	"---\n" +
	"# 2024-01\n" +
	"\n" +
	"First entry of the year.\n"

func TestFS_SetTitle_RenamesMigratesAndRewritesHeading(t *testing.T) {
	t.Parallel()

	fs, bodies, meta := newTestFSWithPolicy(RenamePolicy{
		AutoRenameToTitle:  true,
		FilenameStyle:      "kebab-case",
		SyncTitleToHeading: true,
	})
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "journal/2024-01.md", []byte(titledEntry)))

	newPath, err := fs.SetTitle(ctx, "journal/2024-01.md", "New Year")
	require.NoError(t, err)
	assert.Equal(t, "journal/new-year.md", newPath)

	oldEntry, _ := meta.Entry("journal/2024-01.md")
	assert.True(t, oldEntry.Deleted)

	newEntry, ok := meta.Entry("journal/new-year.md")
	require.True(t, ok)
	assert.Equal(t, "New Year", newEntry.Title)

	assert.Contains(t, bodies.Get("journal/new-year.md").Text(), "# New Year")

	data, err := fs.Read(ctx, "journal/new-year.md")
	require.NoError(t, err)
	assert.Contains(t, string(data), "# New Year")
}

func TestFS_SetTitle_WithoutAutoRenameLeavesPathUnchanged(t *testing.T) {
	t.Parallel()

	fs, _, meta := newTestFS()
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "journal/2024-01.md", []byte(titledEntry)))

	newPath, err := fs.SetTitle(ctx, "journal/2024-01.md", "New Year")
	require.NoError(t, err)
	assert.Equal(t, "journal/2024-01.md", newPath)

	entry, ok := meta.Entry("journal/2024-01.md")
	require.True(t, ok)
	assert.Equal(t, "New Year", entry.Title)
	assert.False(t, entry.Deleted)
}

func TestKebabCase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "new-year", kebabCase("New Year"))
	assert.Equal(t, "hello-world", kebabCase("  Hello, World!  "))
}
