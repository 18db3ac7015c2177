package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBodyDoc_InsertText(t *testing.T) {
	t.Parallel()

	doc := NewBodyDoc()
	_, _, err := doc.InsertText(Tag{}, "hello", "replica-a")
	require.NoError(t, err)

	assert.Equal(t, "hello", doc.Text())
	assert.Equal(t, 5, doc.Len())
}

func TestBodyDoc_InsertInMiddle(t *testing.T) {
	t.Parallel()

	doc := NewBodyDoc()
	_, ops, err := doc.InsertText(Tag{}, "helo", "replica-a")
	require.NoError(t, err)

	// ops[1] is the 'e'; insert an "l" right after it to turn "helo"
	// into "hello".
	_, err = doc.InsertAfter(ops[1].ID, 'l', "replica-a")
	require.NoError(t, err)

	assert.Equal(t, "hello", doc.Text())
}

func TestBodyDoc_Delete(t *testing.T) {
	t.Parallel()

	doc := NewBodyDoc()
	_, ops, err := doc.InsertText(Tag{}, "hello", "replica-a")
	require.NoError(t, err)

	_, err = doc.Delete(ops[len(ops)-1].ID, "replica-a")
	require.NoError(t, err)

	assert.Equal(t, "hell", doc.Text())
}

func TestBodyDoc_ConcurrentInsertsConverge(t *testing.T) {
	t.Parallel()

	// Two replicas start from the same base text, then each
	// concurrently inserts a different character right after the same
	// position. Applying both replicas' ops to each other must
	// produce identical text on both sides regardless of apply order.
	base := NewBodyDoc()
	_, baseOps, err := base.InsertText(Tag{}, "ac", "seed")
	require.NoError(t, err)

	afterA := baseOps[0].ID // the 'a'

	replicaA := NewBodyDoc()
	replicaB := NewBodyDoc()

	for _, op := range baseOps {
		require.NoError(t, replicaA.ApplyInsert(op))
		require.NoError(t, replicaB.ApplyInsert(op))
	}

	tagX, err := replicaA.InsertAfter(afterA, 'x', "replica-a")
	require.NoError(t, err)

	tagY, err := replicaB.InsertAfter(afterA, 'y', "replica-b")
	require.NoError(t, err)

	require.NoError(t, replicaA.ApplyInsert(InsertOp{ID: tagY, Origin: afterA, Value: 'y'}))
	require.NoError(t, replicaB.ApplyInsert(InsertOp{ID: tagX, Origin: afterA, Value: 'x'}))

	assert.Equal(t, replicaA.Text(), replicaB.Text())
	assert.Len(t, replicaA.Text(), 4)
}

func TestBodyDoc_StateVectorSync(t *testing.T) {
	t.Parallel()

	a := NewBodyDoc()
	_, _, err := a.InsertText(Tag{}, "draft", "replica-a")
	require.NoError(t, err)

	b := NewBodyDoc()

	inserts, deletes := a.MissingSince(b.StateVector())
	assert.Len(t, inserts, 5)
	assert.Empty(t, deletes)

	for _, op := range inserts {
		require.NoError(t, b.ApplyInsert(op))
	}

	assert.Equal(t, a.Text(), b.Text())
}

func TestBodyDoc_SnapshotLoadRoundTrip(t *testing.T) {
	t.Parallel()

	doc := NewBodyDoc()
	_, ops, err := doc.InsertText(Tag{}, "hello world", "replica-a")
	require.NoError(t, err)

	_, err = doc.Delete(ops[5].ID, "replica-a") // delete the space
	require.NoError(t, err)

	snap := doc.Snapshot()

	restored := NewBodyDoc()
	require.NoError(t, restored.Load(snap))

	assert.Equal(t, doc.Text(), restored.Text())
	assert.Equal(t, doc.StateVector(), restored.StateVector())
}

func TestBodyDoc_InsertUnknownOrigin(t *testing.T) {
	t.Parallel()

	doc := NewBodyDoc()
	_, err := doc.InsertAfter(Tag{Counter: 99, Replica: "ghost"}, 'x', "replica-a")
	assert.Error(t, err)
}
