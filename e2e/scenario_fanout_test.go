package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Scenario 1: a title set on one device fans out to every other device
// connected to the same workspace, converging to the same value.
func TestScenario_FanOutConvergence(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	owner := signUp(t, ts, "writer@example.com", "laptop")

	a := dialMetaClient(t, ts, owner, "journal")
	defer a.close()

	b := dialMetaClient(t, ts, owner, "journal")
	defer b.close()

	c := dialMetaClient(t, ts, owner, "journal")
	defer c.close()

	ctx := context.Background()
	update := a.doc.SetTitle("2026-07-31.md", "Standup Notes", a.replica)
	a.push(ctx, update)

	converged := func(client *metaClient) func() bool {
		return func() bool {
			entry, ok := client.doc.Entry("2026-07-31.md")
			return ok && entry.Title == "Standup Notes"
		}
	}

	b.drainUntil(t, 5*time.Second, converged(b))
	c.drainUntil(t, 5*time.Second, converged(c))

	entryB, _ := b.doc.Entry("2026-07-31.md")
	entryC, _ := c.doc.Entry("2026-07-31.md")
	assert.Equal(t, "Standup Notes", entryB.Title)
	assert.Equal(t, "Standup Notes", entryC.Title)
}
