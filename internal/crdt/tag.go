// Package crdt implements the two document kinds a workspace is built
// from: MetaDoc, an LWW-register map of per-path metadata, and BodyDoc,
// an RGA sequence of runes for one entry's text. Both are state-based
// CRDTs: replicas converge by exchanging a state vector (the highest
// op counter seen per replica) and then the updates the other side's
// vector shows as missing, rather than by agreeing on an op order up
// front.
package crdt

import "fmt"

// Tag is a Lamport timestamp: a counter higher than any counter the
// assigning replica had seen when it made the edit, plus that replica's
// ID. Every field write, set membership change, and body-doc character
// carries one, and merges resolve concurrent writes by picking the
// higher Tag — ties (equal counters assigned by different replicas to
// concurrent edits) broken by comparing replica IDs so every replica
// reaches the same answer.
type Tag struct {
	Counter uint64
	Replica string
}

// Zero reports whether t is the unset Tag, used as the sentinel origin
// for "insert at the very start of the sequence" in BodyDoc.
func (t Tag) Zero() bool {
	return t.Counter == 0 && t.Replica == ""
}

// After reports whether t should win a merge against other: a strictly
// higher counter wins outright; equal counters (only possible across
// different replicas, since a single replica's counters are unique)
// are broken by comparing replica IDs.
func (t Tag) After(other Tag) bool {
	if t.Counter != other.Counter {
		return t.Counter > other.Counter
	}

	return t.Replica > other.Replica
}

func (t Tag) String() string {
	return fmt.Sprintf("%d@%s", t.Counter, t.Replica)
}

// clock tracks, per replica, the highest counter this document has
// incorporated — doubling as the document's state vector and as the
// source of fresh local Tags.
type clock struct {
	seen map[string]uint64
}

func newClock() clock {
	return clock{seen: make(map[string]uint64)}
}

func (c *clock) observe(t Tag) {
	if t.Counter > c.seen[t.Replica] {
		c.seen[t.Replica] = t.Counter
	}
}

// next issues a fresh Tag for replica, one past the highest counter seen
// from any replica, so an edit always sorts after everything it observed.
func (c *clock) next(replica string) Tag {
	var highest uint64
	for _, n := range c.seen {
		if n > highest {
			highest = n
		}
	}

	c.seen[replica] = highest + 1

	return Tag{Counter: c.seen[replica], Replica: replica}
}

// vector returns a copy of the state vector: the highest counter seen
// per replica. Safe to hand to callers since it does not alias c.seen.
func (c *clock) vector() map[string]uint64 {
	out := make(map[string]uint64, len(c.seen))
	for r, n := range c.seen {
		out[r] = n
	}

	return out
}

// missing reports whether t represents information the holder of sv
// has not yet incorporated.
func missing(t Tag, sv map[string]uint64) bool {
	return t.Counter > sv[t.Replica]
}
