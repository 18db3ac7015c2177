package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry owns every live room for the process. Rooms are created
// lazily on first access and run for the registry's lifetime; Shutdown
// tears all of them down together.
type Registry struct {
	persister Persister
	cfg       Config
	logger    *slog.Logger

	parentCtx context.Context
	g         *errgroup.Group

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry returns a Registry whose rooms run under ctx: canceling
// ctx stops every room's persistence loop and closes its peers.
func NewRegistry(ctx context.Context, persister Persister, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	g, gctx := errgroup.WithContext(ctx)

	return &Registry{
		persister: persister,
		cfg:       cfg,
		logger:    logger,
		parentCtx: gctx,
		g:         g,
		rooms:     make(map[string]*Room),
	}
}

// Get returns the room for workspaceID, creating and starting it on
// first access.
func (reg *Registry) Get(ctx context.Context, workspaceID string) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.rooms[workspaceID]; ok {
		return r, nil
	}

	r, err := newRoom(ctx, workspaceID, reg.persister, reg.cfg, reg.logger)
	if err != nil {
		return nil, fmt.Errorf("room: opening room %s: %w", workspaceID, err)
	}

	reg.rooms[workspaceID] = r
	reg.g.Go(func() error { return r.run(reg.parentCtx) })

	reg.logger.Info("room: opened", slog.String("workspace", workspaceID))

	return r, nil
}

// Peek returns the already-open room for workspaceID without creating
// one, used when propagating a change (e.g. a read-only toggle) that
// only matters if a room happens to be live already.
func (reg *Registry) Peek(workspaceID string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[workspaceID]

	return r, ok
}

// Stats reports the number of open rooms and the total peer count
// across all of them, for the process status endpoint.
func (reg *Registry) Stats() (activeRooms, activeConnections int) {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	for _, r := range rooms {
		activeConnections += r.PeerCount()
	}

	return len(rooms), activeConnections
}

// EndGuestSession terminates every guest peer bound to sessionID across
// every open room. Workspace IDs are not indexed by session, so this
// scans the open room set — acceptable since share-session endings are
// rare compared to CRDT update volume.
func (reg *Registry) EndGuestSession(sessionID string) {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	for _, r := range rooms {
		r.endGuestSession(sessionID)
	}
}

// Shutdown waits for every room's persistence loop and peer teardown to
// finish. It does not stop the rooms itself; they stop once the ctx
// given to NewRegistry is canceled.
func (reg *Registry) Shutdown() error {
	return reg.g.Wait()
}
