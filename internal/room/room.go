// Package room implements one sync room per workspace: the shared
// metadata CRDT document, a lazily-loaded map of per-entry body
// documents, the connected device/guest peer set, and the persistence
// cadence that flushes both back to durable storage.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/noteflow/syncd/internal/apierr"
	"github.com/noteflow/syncd/internal/crdt"
	"github.com/noteflow/syncd/internal/fsabs/crdtfs"
)

// Persister is the durable-storage seam a Room flushes snapshots
// through. *store.CRDTDocs satisfies this directly.
type Persister interface {
	SaveMeta(ctx context.Context, workspaceID string, snapshot []byte) error
	LoadMeta(ctx context.Context, workspaceID string) ([]byte, error)
	SaveBody(ctx context.Context, workspaceID, path string, snapshot []byte) error
	LoadBody(ctx context.Context, workspaceID, path string) ([]byte, error)
	DeleteBody(ctx context.Context, workspaceID, path string) error
	BodyPaths(ctx context.Context, workspaceID string) ([]string, error)
}

// Config bounds a room's persistence cadence and per-peer outbound
// queue depth, resolved from config.RoomConfig.
type Config struct {
	PersistenceInterval time.Duration
	OutboundQueueSize   int
}

// Room owns one workspace's CRDT documents and connected peers. The
// workspace metadata doc and each body doc serialize their own
// mutations behind their own locks, independently of Room's mu.
type Room struct {
	id         string
	persister  Persister
	cfg        Config
	logger     *slog.Logger

	mu          sync.Mutex
	meta        *crdt.MetaDoc
	bodies      map[string]*crdt.BodyDoc
	metaDirty   bool
	dirtyBodies map[string]bool
	peers       map[*Peer]struct{}
}

func newRoom(ctx context.Context, id string, persister Persister, cfg Config, logger *slog.Logger) (*Room, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Room{
		id:          id,
		persister:   persister,
		cfg:         cfg,
		logger:      logger,
		meta:        crdt.NewMetaDoc(),
		bodies:      make(map[string]*crdt.BodyDoc),
		dirtyBodies: make(map[string]bool),
		peers:       make(map[*Peer]struct{}),
	}

	snapshot, err := persister.LoadMeta(ctx, id)
	switch {
	case err == nil:
		if err := r.meta.Load(snapshot); err != nil {
			return nil, fmt.Errorf("room: loading persisted metadata doc for %s: %w", id, err)
		}
	case errors.Is(err, apierr.ErrNotFound):
		// No prior snapshot — fresh workspace.
	default:
		return nil, fmt.Errorf("room: loading metadata snapshot for %s: %w", id, err)
	}

	return r, nil
}

// ID returns the workspace ID this room serves.
func (r *Room) ID() string { return r.id }

// MetaDoc returns the room's metadata document.
func (r *Room) MetaDoc() *crdt.MetaDoc { return r.meta }

// Get returns the body document for path wrapped so that local writes
// captured through crdtfs rebroadcast like any other update (satisfies
// crdtfs.Bodies). Callers inside this package that need the concrete
// document — the handshake, applying a remote frame, flushing — use
// bodyDoc instead.
func (r *Room) Get(path string) crdtfs.Body {
	return &observedBody{doc: r.bodyDoc(path), path: path, room: r}
}

// bodyDoc returns the concrete body document for path, loading it from
// the persister on first access.
func (r *Room) bodyDoc(path string) *crdt.BodyDoc {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.bodyLocked(path)
}

func (r *Room) bodyLocked(path string) *crdt.BodyDoc {
	if doc, ok := r.bodies[path]; ok {
		return doc
	}

	doc := crdt.NewBodyDoc()

	snapshot, err := r.persister.LoadBody(context.Background(), r.id, path)
	switch {
	case err == nil:
		if err := doc.Load(snapshot); err != nil {
			r.logger.Warn("room: discarding unreadable body doc snapshot",
				slog.String("workspace", r.id), slog.String("path", path), slog.String("error", err.Error()))
			doc = crdt.NewBodyDoc()
		}
	case errors.Is(err, apierr.ErrNotFound):
		// No prior snapshot — fresh body doc.
	default:
		r.logger.Warn("room: failed to load body doc snapshot",
			slog.String("workspace", r.id), slog.String("path", path), slog.String("error", err.Error()))
	}

	r.bodies[path] = doc

	return doc
}

// Reset discards any existing body document for path and returns a
// fresh empty one, used by a legacy rename to re-home an entry's
// content under its new canonical path without carrying over state
// that belongs to a different document identity.
func (r *Room) Reset(path string) crdtfs.Body {
	r.mu.Lock()
	doc := crdt.NewBodyDoc()
	r.bodies[path] = doc
	r.dirtyBodies[path] = true
	r.mu.Unlock()

	return &observedBody{doc: doc, path: path, room: r}
}

// Delete removes path's body document and its persisted snapshot,
// used for a rename's source key once content has moved to the
// destination.
func (r *Room) Delete(path string) {
	r.mu.Lock()
	delete(r.bodies, path)
	delete(r.dirtyBodies, path)
	r.mu.Unlock()

	if err := r.persister.DeleteBody(context.Background(), r.id, path); err != nil {
		r.logger.Warn("room: failed to delete persisted body doc",
			slog.String("workspace", r.id), slog.String("path", path), slog.String("error", err.Error()))
	}
}

// ApplyMetaUpdate merges u into the metadata document and, if Apply
// reports a change, marks the doc dirty and rebroadcasts it to every
// other meta-scope peer.
func (r *Room) ApplyMetaUpdate(u crdt.Update, from *Peer) {
	if !r.meta.Apply(u) {
		return
	}

	r.mu.Lock()
	r.metaDirty = true
	r.mu.Unlock()

	r.broadcast(ScopeMeta, "", encodeFrame(frameKindMetaUpdates, crdt.EncodeUpdates([]crdt.Update{u})), from)
}

// ApplyBodyInsert merges a remote insert into path's body document and
// rebroadcasts it to every other peer scoped to that body doc.
func (r *Room) ApplyBodyInsert(path string, op crdt.InsertOp, from *Peer) error {
	doc := r.bodyDoc(path)
	if err := doc.ApplyInsert(op); err != nil {
		return err
	}

	r.markBodyDirty(path)
	r.broadcast(ScopeBody, path, encodeFrame(frameKindBodyInserts, crdt.EncodeInserts([]crdt.InsertOp{op})), from)

	return nil
}

// ApplyBodyDelete merges a remote delete into path's body document and
// rebroadcasts it.
func (r *Room) ApplyBodyDelete(path string, op crdt.DeleteOp, from *Peer) error {
	doc := r.bodyDoc(path)
	if err := doc.ApplyDelete(op); err != nil {
		return err
	}

	r.markBodyDirty(path)
	r.broadcast(ScopeBody, path, encodeFrame(frameKindBodyDeletes, crdt.EncodeDeletes([]crdt.DeleteOp{op})), from)

	return nil
}

func (r *Room) markBodyDirty(path string) {
	r.mu.Lock()
	r.dirtyBodies[path] = true
	r.mu.Unlock()
}

// PeerCount returns the number of peers currently joined to the room,
// used by the status endpoint's active_connections tally.
func (r *Room) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.peers)
}

// join adds p to the room's peer set and announces it to every other
// peer sharing p's scope.
func (r *Room) join(p *Peer) {
	r.mu.Lock()
	r.peers[p] = struct{}{}
	r.mu.Unlock()

	r.broadcastControl(p.scope, p.path, controlMessage{Type: controlPeerJoined, PeerID: p.id}, p)
}

// leave removes p from the room's peer set and announces its departure.
func (r *Room) leave(p *Peer) {
	r.mu.Lock()
	_, ok := r.peers[p]
	delete(r.peers, p)
	r.mu.Unlock()

	if !ok {
		return
	}

	r.broadcastControl(p.scope, p.path, controlMessage{Type: controlPeerLeft, PeerID: p.id}, p)
}

// endGuestSession sends session_ended to and closes every guest peer
// bound to sessionID, leaving device peers connected and untouched.
func (r *Room) endGuestSession(sessionID string) {
	r.mu.Lock()
	var targets []*Peer
	for p := range r.peers {
		if p.kind == PeerGuest && p.sessionID == sessionID {
			targets = append(targets, p)
		}
	}
	r.mu.Unlock()

	for _, p := range targets {
		p.sendControl(controlMessage{Type: controlSessionEnded})
		p.close()
	}
}

// UpdateGuestReadOnly flips the live read_only flag on every guest peer
// bound to sessionID and announces the change, so a share-session
// permission edit takes effect on already-connected guests without
// requiring them to reconnect.
func (r *Room) UpdateGuestReadOnly(sessionID string, readOnly bool) {
	r.mu.Lock()
	var targets []*Peer
	for p := range r.peers {
		if p.kind == PeerGuest && p.sessionID == sessionID {
			targets = append(targets, p)
		}
	}
	r.mu.Unlock()

	for _, p := range targets {
		p.readOnly = readOnly
		p.sendControl(controlMessage{Type: controlReadOnlyChanged, ReadOnly: &readOnly})
	}
}

// broadcast fans frame out to every connected peer sharing kind/path,
// optionally excluding except (the peer whose update produced frame).
func (r *Room) broadcast(kind ScopeKind, path string, frame []byte, except *Peer) {
	r.mu.Lock()
	targets := make([]*Peer, 0, len(r.peers))
	for p := range r.peers {
		if p == except || p.scope != kind || p.path != path {
			continue
		}

		targets = append(targets, p)
	}
	r.mu.Unlock()

	for _, p := range targets {
		p.sendFrame(frame)
	}
}

func (r *Room) broadcastControl(kind ScopeKind, path string, msg controlMessage, except *Peer) {
	r.mu.Lock()
	targets := make([]*Peer, 0, len(r.peers))
	for p := range r.peers {
		if p == except || p.scope != kind || p.path != path {
			continue
		}

		targets = append(targets, p)
	}
	r.mu.Unlock()

	for _, p := range targets {
		p.sendControl(msg)
	}
}

// run drives the room's persistence ticker until ctx is canceled, at
// which point it performs one final flush and closes every connected
// peer.
func (r *Room) run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PersistenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.flush(context.Background()); err != nil {
				r.logger.Warn("room: periodic flush failed", slog.String("workspace", r.id), slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			if err := r.flush(context.Background()); err != nil {
				r.logger.Warn("room: final flush failed", slog.String("workspace", r.id), slog.String("error", err.Error()))
			}

			r.closeAllPeers()

			return nil
		}
	}
}

// flush persists every dirty document, snapshotting under the room's
// lock and performing the store writes outside it so persistence I/O
// never blocks document mutation.
func (r *Room) flush(ctx context.Context) error {
	r.mu.Lock()

	var metaSnapshot []byte
	if r.metaDirty {
		metaSnapshot = r.meta.Snapshot()
		r.metaDirty = false
	}

	bodySnapshots := make(map[string][]byte, len(r.dirtyBodies))
	for path := range r.dirtyBodies {
		if doc, ok := r.bodies[path]; ok {
			bodySnapshots[path] = doc.Snapshot()
		}
	}
	r.dirtyBodies = make(map[string]bool)

	r.mu.Unlock()

	if metaSnapshot != nil {
		if err := r.persister.SaveMeta(ctx, r.id, metaSnapshot); err != nil {
			return fmt.Errorf("room: saving metadata doc: %w", err)
		}
	}

	for path, snapshot := range bodySnapshots {
		if err := r.persister.SaveBody(ctx, r.id, path, snapshot); err != nil {
			return fmt.Errorf("room: saving body doc %s: %w", path, err)
		}
	}

	return nil
}

func (r *Room) closeAllPeers() {
	r.mu.Lock()
	targets := make([]*Peer, 0, len(r.peers))
	for p := range r.peers {
		targets = append(targets, p)
	}
	r.peers = make(map[*Peer]struct{})
	r.mu.Unlock()

	for _, p := range targets {
		p.close()
	}
}

var (
	_ crdtfs.Bodies    = (*Room)(nil)
	_ crdtfs.MetaStore = (*Room)(nil)
)
