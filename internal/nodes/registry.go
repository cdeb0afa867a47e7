package nodes

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNodeNotFound is returned when an operation references an unknown
// node_id.
var ErrNodeNotFound = errors.New("node not found")

// pending is the sending half of a single-use completion handle for one
// in-flight invocation. The channel has capacity 1 so a send never
// blocks even if the awaiter has already given up.
type pending struct {
	ch chan InvokeResult
}

// Registry is the device session table plus the correlation-ID to
// pending-response map. All operations are serialized under a single
// mutex with short critical sections; no network I/O happens while the
// lock is held.
type Registry struct {
	mu      sync.Mutex
	nodes   map[string]*Session
	pending map[string]*pending
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes:   make(map[string]*Session),
		pending: make(map[string]*pending),
	}
}

// Register allocates a node_id and stores a session for a newly
// connected device. send is the registry's handle onto that node's
// WebSocket write half, used later by Invoke.
func (r *Registry) Register(reg Registration, send Sender) string {
	nodeID := "node_" + uuid.NewString()

	session := &Session{
		NodeID:       nodeID,
		DeviceID:     reg.DeviceID,
		DisplayName:  reg.DisplayName,
		Platform:     reg.Platform,
		DeviceFamily: reg.DeviceFamily,
		Caps:         reg.Caps,
		Commands:     reg.Commands,
		ConnectedAt:  time.Now().UTC(),
		LastSeen:     time.Now().UTC(),
		send:         send,
	}

	r.mu.Lock()
	r.nodes[nodeID] = session
	r.mu.Unlock()

	return nodeID
}

// Unregister removes a session. It does not fail any pending
// invocations for that node — a late response simply finds the handle
// gone and HandleResponse returns false; an awaiter racing a timeout
// observes the same effect as if the handle had never been fulfilled.
func (r *Registry) Unregister(nodeID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.nodes[nodeID]
	if !ok {
		return nil, false
	}
	delete(r.nodes, nodeID)
	return s, true
}

// Get returns the session for nodeID, if connected.
func (r *Registry) Get(nodeID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.nodes[nodeID]
	return s, ok
}

// List returns all connected sessions in unspecified order.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.nodes))
	for _, s := range r.nodes {
		out = append(out, s)
	}
	return out
}

// FindByCap returns the first connected session declaring tag among
// its capabilities.
func (r *Registry) FindByCap(tag string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.nodes {
		for _, c := range s.Caps {
			if c == tag {
				return s, true
			}
		}
	}
	return nil, false
}

// FindByCommand returns the first connected session declaring command
// among its supported commands.
func (r *Registry) FindByCommand(command string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.nodes {
		for _, c := range s.Commands {
			if c == command {
				return s, true
			}
		}
	}
	return nil, false
}

// PrepareInvoke allocates a correlation_id and the receiving half of a
// single-use completion handle for a new invocation against nodeID.
// Returns ErrNodeNotFound if the node is not connected.
func (r *Registry) PrepareInvoke(nodeID string) (string, <-chan InvokeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[nodeID]; !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}

	correlationID := uuid.NewString()
	p := &pending{ch: make(chan InvokeResult, 1)}
	r.pending[correlationID] = p
	return correlationID, p.ch, nil
}

// HandleResponse delivers result to the awaiter for correlationID.
// Returns true iff a pending handle was present and not yet dropped —
// the handle is removed from the pending map under the same lock, so
// a late response racing a DropPending (timeout/cancellation) sees
// ok == false and a successful delivery happens exactly once.
func (r *Registry) HandleResponse(correlationID string, result InvokeResult) bool {
	r.mu.Lock()
	p, ok := r.pending[correlationID]
	if ok {
		delete(r.pending, correlationID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	p.ch <- result
	return true
}

// DropPending discards the pending handle for correlationID without
// delivering a result, so a late HandleResponse for a timed-out or
// cancelled invoke is reported as not delivered instead of leaking the
// map entry forever.
func (r *Registry) DropPending(correlationID string) {
	r.mu.Lock()
	delete(r.pending, correlationID)
	r.mu.Unlock()
}

// SendInvoke delivers a pre-encoded invoke frame to nodeID's socket via
// the send half captured at registration time.
func (r *Registry) SendInvoke(nodeID string, frame []byte) error {
	r.mu.Lock()
	s, ok := r.nodes[nodeID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}
	if s.send == nil {
		return errors.New("node has no active send channel")
	}
	return s.send.Send(frame)
}

// Len returns the number of connected sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

// IsEmpty reports whether no nodes are connected.
func (r *Registry) IsEmpty() bool {
	return r.Len() == 0
}

// Touch records that nodeID's connection is still alive, resetting its
// staleness clock. Called on every ping frame received over its socket.
func (r *Registry) Touch(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.nodes[nodeID]; ok {
		s.LastSeen = time.Now().UTC()
	}
}

// PurgeStale removes every session whose LastSeen is older than
// maxAge and returns the removed node_ids. A socket that silently
// disappeared without a close frame never has its entry cleaned up
// otherwise.
func (r *Registry) PurgeStale(maxAge time.Duration) []string {
	cutoff := time.Now().UTC().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, s := range r.nodes {
		if s.LastSeen.Before(cutoff) {
			delete(r.nodes, id)
			removed = append(removed, id)
		}
	}
	return removed
}
