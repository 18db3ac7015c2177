package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetaDoc_SetTitle_LastWriterWins(t *testing.T) {
	t.Parallel()

	doc := NewMetaDoc()

	u1 := doc.SetTitle("notes/a.md", "First Title", "replica-a")
	u2 := doc.SetTitle("notes/a.md", "Second Title", "replica-a")

	assert.True(t, u2.Tag.After(u1.Tag))

	entry, ok := doc.Entry("notes/a.md")
	require.True(t, ok)
	assert.Equal(t, "Second Title", entry.Title)
}

func TestMetaDoc_ConcurrentTitleWrites_Converge(t *testing.T) {
	t.Parallel()

	// Two replicas each set a title for the same path without seeing
	// the other's write, then merge; both must land on the same
	// resolved title regardless of merge order.
	replicaA := NewMetaDoc()
	replicaB := NewMetaDoc()

	uA := replicaA.SetTitle("notes/a.md", "From Alpha", "alpha")
	uB := replicaB.SetTitle("notes/a.md", "From Bravo", "bravo")

	replicaA.Apply(uB)
	replicaB.Apply(uA)

	entryA, _ := replicaA.Entry("notes/a.md")
	entryB, _ := replicaB.Entry("notes/a.md")

	assert.Equal(t, entryA.Title, entryB.Title)

	want := "From Alpha"
	if uB.Tag.After(uA.Tag) {
		want = "From Bravo"
	}

	assert.Equal(t, want, entryA.Title)
}

func TestMetaDoc_Tombstone(t *testing.T) {
	t.Parallel()

	doc := NewMetaDoc()
	doc.SetTitle("notes/a.md", "Title", "replica-a")
	doc.SetTombstone("notes/a.md", true, "replica-a")

	entry, ok := doc.Entry("notes/a.md")
	require.True(t, ok)
	assert.True(t, entry.Deleted)
}

func TestMetaDoc_ContentsAddRemove(t *testing.T) {
	t.Parallel()

	doc := NewMetaDoc()
	doc.AddContent("folder", "folder/a.md", "replica-a")
	doc.AddContent("folder", "folder/b.md", "replica-a")

	entry, ok := doc.Entry("folder")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"folder/a.md", "folder/b.md"}, entry.Contents)

	_, removed := doc.RemoveContent("folder", "folder/a.md", "replica-a")
	require.True(t, removed)

	entry, _ = doc.Entry("folder")
	assert.Equal(t, []string{"folder/b.md"}, entry.Contents)
}

func TestMetaDoc_RemoveContent_NotPresent(t *testing.T) {
	t.Parallel()

	doc := NewMetaDoc()

	_, ok := doc.RemoveContent("folder", "folder/missing.md", "replica-a")
	assert.False(t, ok)
}

func TestMetaDoc_ConcurrentAddRemove_AddWins(t *testing.T) {
	t.Parallel()

	// Replica A adds a child, syncs to B. Then A removes it while B,
	// concurrently and without having seen the removal, re-adds the
	// same value under a fresh tag. The re-add must survive the merge
	// since its tag was never observed by the remove.
	a := NewMetaDoc()
	addU := a.AddContent("folder", "folder/a.md", "replica-a")

	b := NewMetaDoc()
	b.Apply(addU)

	removeU, ok := a.RemoveContent("folder", "folder/a.md", "replica-a")
	require.True(t, ok)

	readdU := b.AddContent("folder", "folder/a.md", "replica-b")

	a.Apply(readdU)
	b.Apply(removeU)

	entryA, _ := a.Entry("folder")
	entryB, _ := b.Entry("folder")

	assert.Equal(t, []string{"folder/a.md"}, entryA.Contents)
	assert.Equal(t, entryA.Contents, entryB.Contents)
}

func TestMetaDoc_StateVectorSync(t *testing.T) {
	t.Parallel()

	a := NewMetaDoc()
	a.SetTitle("notes/a.md", "Title A", "replica-a")
	a.AddAttachment("notes/a.md", "sha256:abc", "replica-a")
	a.SetParent("notes/a.md", "notes", "replica-a")

	b := NewMetaDoc()

	sv := b.StateVector()
	missing := a.MissingSince(sv)
	assert.Len(t, missing, 3)

	for _, u := range missing {
		b.Apply(u)
	}

	entryA, _ := a.Entry("notes/a.md")
	entryB, _ := b.Entry("notes/a.md")
	assert.Equal(t, entryA, entryB)

	// Re-running the handshake with B's updated vector should find
	// nothing new.
	assert.Empty(t, a.MissingSince(b.StateVector()))
}

func TestMetaDoc_EncodeDecodeUpdatesRoundTrip(t *testing.T) {
	t.Parallel()

	doc := NewMetaDoc()
	doc.SetTitle("notes/a.md", "Title", "replica-a")
	doc.AddAudience("notes/a.md", "family", "replica-a")
	doc.AddAudience("notes/a.md", "friends", "replica-a")
	_, _ = doc.RemoveAudience("notes/a.md", "family", "replica-a")

	encoded := EncodeUpdates(doc.MissingSince(nil))

	decoded, err := DecodeUpdates(encoded)
	require.NoError(t, err)

	replay := NewMetaDoc()
	for _, u := range decoded {
		replay.Apply(u)
	}

	original, _ := doc.Entry("notes/a.md")
	rebuilt, _ := replay.Entry("notes/a.md")
	assert.Equal(t, original, rebuilt)
}

func TestMetaDoc_SnapshotLoadRoundTrip(t *testing.T) {
	t.Parallel()

	doc := NewMetaDoc()
	doc.SetTitle("notes/a.md", "Title", "replica-a")
	doc.SetParent("notes/a.md", "notes", "replica-a")
	doc.AddAttachment("notes/a.md", "sha256:abc", "replica-a")

	snap := doc.Snapshot()

	restored := NewMetaDoc()
	require.NoError(t, restored.Load(snap))

	want, _ := doc.Entry("notes/a.md")
	got, _ := restored.Entry("notes/a.md")
	assert.Equal(t, want, got)
	assert.Equal(t, doc.StateVector(), restored.StateVector())
}
