package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/noteflow/syncd/internal/crdt"
)

// PeerKind distinguishes an authenticated device connection from an
// anonymous share-session guest.
type PeerKind int

const (
	PeerDevice PeerKind = iota
	PeerGuest
)

// ScopeKind selects which of a room's documents a Peer is joined to.
type ScopeKind int

const (
	ScopeMeta ScopeKind = iota
	ScopeBody
)

// Peer is one WebSocket connection joined to a room, scoped to either
// the workspace metadata doc or one entry's body doc.
type Peer struct {
	id        string
	kind      PeerKind
	replica   string // CRDT author tag: device ID or a guest-session-scoped ID
	sessionID string // share-session code, set only for guest peers
	readOnly  bool

	room  *Room
	scope ScopeKind
	path  string // entry path, set only when scope == ScopeBody

	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPeer wraps an accepted WebSocket connection as a room participant.
// path is ignored when scope is ScopeMeta.
func NewPeer(conn *websocket.Conn, r *Room, kind PeerKind, id, replica, sessionID string, scope ScopeKind, path string, readOnly bool, queueSize int, logger *slog.Logger) *Peer {
	if logger == nil {
		logger = slog.Default()
	}

	if queueSize <= 0 {
		queueSize = 256
	}

	return &Peer{
		id:        id,
		kind:      kind,
		replica:   replica,
		sessionID: sessionID,
		readOnly:  readOnly,
		room:      r,
		scope:     scope,
		path:      path,
		conn:      conn,
		send:      make(chan []byte, queueSize),
		logger:    logger,
		closed:    make(chan struct{}),
	}
}

// Serve performs the two-phase handshake, joins the room, and then
// pumps frames until ctx is canceled or the connection fails. It always
// leaves the room and closes the connection before returning.
func (p *Peer) Serve(ctx context.Context) error {
	if err := p.handshake(ctx); err != nil {
		p.conn.Close(websocket.StatusProtocolError, "handshake failed")
		return fmt.Errorf("room: peer %s handshake: %w", p.id, err)
	}

	p.room.join(p)
	defer p.room.leave(p)

	writeDone := make(chan error, 1)
	go func() { writeDone <- p.writePump(ctx) }()

	readErr := p.readLoop(ctx)

	p.close()
	writeErr := <-writeDone

	if readErr != nil {
		return readErr
	}

	return writeErr
}

// handshake exchanges state vectors and then sends the peer every
// update it is missing: send our vector, read the peer's, compute and
// send what it lacks, and announce sync_complete.
func (p *Peer) handshake(ctx context.Context) error {
	ours := p.stateVector()

	if err := p.writeControl(ctx, controlMessage{Type: controlStateVector, StateVector: ours}); err != nil {
		return fmt.Errorf("sending state vector: %w", err)
	}

	typ, data, err := p.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading peer state vector: %w", err)
	}

	if typ != websocket.MessageText {
		return fmt.Errorf("expected state_vector control frame, got binary")
	}

	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != controlStateVector {
		return fmt.Errorf("malformed state_vector control frame")
	}

	for _, frame := range p.missingFrames(msg.StateVector) {
		if err := p.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
			return fmt.Errorf("sending missing updates: %w", err)
		}
	}

	return p.writeControl(ctx, controlMessage{Type: controlSyncComplete})
}

func (p *Peer) stateVector() map[string]uint64 {
	if p.scope == ScopeMeta {
		return p.room.MetaDoc().StateVector()
	}

	return p.room.bodyDoc(p.path).StateVector()
}

// missingFrames synthesizes the envelope-tagged binary frames carrying
// every update the peer's state vector does not yet cover.
func (p *Peer) missingFrames(peerSV map[string]uint64) [][]byte {
	if p.scope == ScopeMeta {
		updates := p.room.MetaDoc().MissingSince(peerSV)
		if len(updates) == 0 {
			return nil
		}

		return [][]byte{encodeFrame(frameKindMetaUpdates, crdt.EncodeUpdates(updates))}
	}

	inserts, deletes := p.room.bodyDoc(p.path).MissingSince(peerSV)

	var frames [][]byte
	if len(inserts) > 0 {
		frames = append(frames, encodeFrame(frameKindBodyInserts, crdt.EncodeInserts(inserts)))
	}

	if len(deletes) > 0 {
		frames = append(frames, encodeFrame(frameKindBodyDeletes, crdt.EncodeDeletes(deletes)))
	}

	return frames
}

// readLoop blocks reading frames from the connection until it closes
// or ctx is canceled, applying each CRDT update frame to the room and
// dropping any frame from a read-only peer.
func (p *Peer) readLoop(ctx context.Context) error {
	for {
		typ, data, err := p.conn.Read(ctx)
		if err != nil {
			return nil // normal close or context cancellation
		}

		switch typ {
		case websocket.MessageBinary:
			if p.readOnly {
				p.sendControl(controlMessage{Type: controlError, Reason: "read_only_session"})
				continue
			}

			if err := p.applyFrame(data); err != nil {
				p.logger.Warn("room: dropping unparseable update",
					slog.String("peer", p.id), slog.String("error", err.Error()))
				p.sendControl(controlMessage{Type: controlError, Reason: "unparseable_update"})
			}
		case websocket.MessageText:
			// No client-originated control messages are expected after
			// the handshake; ignore rather than fail the connection.
		}
	}
}

func (p *Peer) applyFrame(data []byte) error {
	kind, payload, err := decodeFrame(data)
	if err != nil {
		return err
	}

	switch kind {
	case frameKindMetaUpdates:
		updates, err := crdt.DecodeUpdates(payload)
		if err != nil {
			return err
		}

		for _, u := range updates {
			p.room.ApplyMetaUpdate(u, p)
		}

		return nil

	case frameKindBodyInserts:
		ops, err := crdt.DecodeInserts(payload)
		if err != nil {
			return err
		}

		for _, op := range ops {
			if err := p.room.ApplyBodyInsert(p.path, op, p); err != nil {
				return err
			}
		}

		return nil

	case frameKindBodyDeletes:
		ops, err := crdt.DecodeDeletes(payload)
		if err != nil {
			return err
		}

		for _, op := range ops {
			if err := p.room.ApplyBodyDelete(p.path, op, p); err != nil {
				return err
			}
		}

		return nil

	default:
		return fmt.Errorf("unknown frame kind %d", kind)
	}
}

// writePump drains p.send to the connection until it is closed. A full
// queue means the peer is too slow to keep up; it is dropped with
// peer_left rather than letting a backlog block the room.
func (p *Peer) writePump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.closed:
			return nil
		case frame, ok := <-p.send:
			if !ok {
				return nil
			}

			if err := p.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
				return err
			}
		}
	}
}

// sendFrame enqueues a binary frame for delivery, dropping the peer on
// backpressure overflow instead of blocking the room's broadcast.
func (p *Peer) sendFrame(frame []byte) {
	select {
	case p.send <- frame:
	default:
		p.logger.Warn("room: dropping slow peer", slog.String("peer", p.id))
		p.close()
	}
}

// sendControl best-effort writes a text control frame directly
// (control messages bypass the outbound queue since they are rare and
// must not be reordered behind a backlog of data frames the peer may
// never drain).
func (p *Peer) sendControl(msg controlMessage) {
	_ = p.writeControl(context.Background(), msg)
}

func (p *Peer) writeControl(ctx context.Context, msg controlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return p.conn.Write(ctx, websocket.MessageText, data)
}

func (p *Peer) close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.conn.Close(websocket.StatusNormalClosure, "")
	})
}
