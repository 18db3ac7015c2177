package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTag_After(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    Tag
		b    Tag
		want bool
	}{
		{name: "higher counter wins", a: Tag{Counter: 2, Replica: "a"}, b: Tag{Counter: 1, Replica: "z"}, want: true},
		{name: "lower counter loses", a: Tag{Counter: 1, Replica: "z"}, b: Tag{Counter: 2, Replica: "a"}, want: false},
		{name: "tie broken by replica", a: Tag{Counter: 1, Replica: "b"}, b: Tag{Counter: 1, Replica: "a"}, want: true},
		{name: "tie broken the other way", a: Tag{Counter: 1, Replica: "a"}, b: Tag{Counter: 1, Replica: "b"}, want: false},
		{name: "identical tag", a: Tag{Counter: 1, Replica: "a"}, b: Tag{Counter: 1, Replica: "a"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.a.After(tt.b))
		})
	}
}

func TestTag_Zero(t *testing.T) {
	t.Parallel()

	assert.True(t, Tag{}.Zero())
	assert.False(t, Tag{Counter: 1}.Zero())
	assert.False(t, Tag{Replica: "a"}.Zero())
}

func TestClock_NextIsMonotonicPerReplica(t *testing.T) {
	t.Parallel()

	c := newClock()

	first := c.next("replica-a")
	second := c.next("replica-a")
	otherReplica := c.next("replica-b")

	assert.Equal(t, uint64(1), first.Counter)
	assert.Equal(t, uint64(2), second.Counter)
	assert.Equal(t, uint64(3), otherReplica.Counter)
}

func TestClock_ObserveTracksHighWaterMark(t *testing.T) {
	t.Parallel()

	c := newClock()
	c.observe(Tag{Counter: 5, Replica: "a"})
	c.observe(Tag{Counter: 3, Replica: "a"}) // stale, must not regress

	assert.Equal(t, map[string]uint64{"a": 5}, c.vector())
}
