// Package permission implements the permission broker: it turns a provider
// permission callback into a broadcast event, parks the agent turn, and
// resolves on the first authorized client decision.
package permission

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	logger "github.com/paseohq/paseod/internal/logging"
)

// Kind categorizes a permission request per spec §3.2's tool_call/kind union.
type Kind string

const (
	KindTool     Kind = "tool"
	KindPlan     Kind = "plan"
	KindQuestion Kind = "question"
	KindMode     Kind = "mode"
	KindOther    Kind = "other"
)

// Outcome is the resolution of a pending request.
type Outcome string

const (
	OutcomeAllow         Outcome = "allow"
	OutcomeAllowModified Outcome = "allow_with_modified_input"
	OutcomeDeny          Outcome = "deny"
	OutcomeCanceled      Outcome = "canceled"
	OutcomeTimeout       Outcome = "timeout"
)

// Decision is the resolution delivered back to the provider's permission
// callback.
type Decision struct {
	Outcome       Outcome                `json:"outcome"`
	ModifiedInput map[string]interface{} `json:"modifiedInput,omitempty"`
	DenyMessage   string                 `json:"denyMessage,omitempty"`
	DenyInterrupt bool                   `json:"denyInterrupt,omitempty"`
}

// Request is a pending permission request, per spec §3.3.
type Request struct {
	ID          string                 `json:"id"`
	AgentID     string                 `json:"agentId"`
	Kind        Kind                   `json:"kind"`
	Name        string                 `json:"name"`
	Title       string                 `json:"title,omitempty"`
	Description string                 `json:"description,omitempty"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

var (
	// ErrNotFound is returned when Respond targets an unknown or already
	// resolved requestId.
	ErrNotFound = fmt.Errorf("permission request not found")
)

type pendingRequest struct {
	request    Request
	responseCh chan Decision
	timer      *time.Timer
}

// Broker owns all in-flight permission requests across every agent. It has
// a single mutator (itself); decisions are delivered on a one-shot channel
// per request, matching the concurrency model of spec §5.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	byAgent map[string][]string // agentID -> ordered requestIDs, FIFO
	timeout time.Duration
	logger  *logger.Logger
}

// NewBroker creates a Broker. timeout is applied uniformly to every pending
// request (see SPEC_FULL.md §4's resolution of the init-vs-turn-timeout open
// question): not just initialization requests.
func NewBroker(timeout time.Duration, log *logger.Logger) *Broker {
	return &Broker{
		pending: make(map[string]*pendingRequest),
		byAgent: make(map[string][]string),
		timeout: timeout,
		logger:  log.WithFields(zap.String("component", "permission-broker")),
	}
}

// Request registers a new pending permission request and returns it along
// with a channel that receives exactly one Decision: either a client
// response, an auto-deny on timeout, or a cancellation.
func (b *Broker) Request(agentID string, kind Kind, name, title, description string, input, metadata map[string]interface{}) (Request, <-chan Decision) {
	req := Request{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		Kind:        kind,
		Name:        name,
		Title:       title,
		Description: description,
		Input:       input,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}

	pr := &pendingRequest{
		request:    req,
		responseCh: make(chan Decision, 1),
	}

	b.mu.Lock()
	b.pending[req.ID] = pr
	b.byAgent[agentID] = append(b.byAgent[agentID], req.ID)
	b.mu.Unlock()

	pr.timer = time.AfterFunc(b.timeout, func() {
		b.resolve(req.ID, Decision{Outcome: OutcomeTimeout, DenyMessage: "timeout"})
	})

	b.logger.Debug("permission request opened",
		zap.String("agent_id", agentID), zap.String("request_id", req.ID), zap.String("name", name))

	return req, pr.responseCh
}

// Respond delivers a client decision for pendingID. Duplicate decisions for
// an already-resolved requestId are idempotent: the first call succeeds,
// later calls return ErrNotFound.
func (b *Broker) Respond(pendingID string, decision Decision) error {
	if decision.Outcome != OutcomeAllow && decision.Outcome != OutcomeAllowModified && decision.Outcome != OutcomeDeny {
		return fmt.Errorf("permission: invalid client decision outcome %q", decision.Outcome)
	}
	return b.resolve(pendingID, decision)
}

// CancelAgent resolves every pending request belonging to agentID with
// OutcomeCanceled, in FIFO order, as required when a turn is canceled while
// awaiting_permission (spec §4.1's cancelTurn edge policy).
func (b *Broker) CancelAgent(agentID string) {
	b.mu.Lock()
	ids := append([]string(nil), b.byAgent[agentID]...)
	b.mu.Unlock()

	for _, id := range ids {
		_ = b.resolve(id, Decision{Outcome: OutcomeCanceled})
	}
}

// Pending returns the ordered, currently-unresolved requests for an agent.
func (b *Broker) Pending(agentID string) []Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := b.byAgent[agentID]
	out := make([]Request, 0, len(ids))
	for _, id := range ids {
		if pr, ok := b.pending[id]; ok {
			out = append(out, pr.request)
		}
	}
	return out
}

func (b *Broker) resolve(id string, decision Decision) error {
	b.mu.Lock()
	pr, ok := b.pending[id]
	if !ok {
		b.mu.Unlock()
		return ErrNotFound
	}
	delete(b.pending, id)
	agentID := pr.request.AgentID
	ids := b.byAgent[agentID]
	for i, rid := range ids {
		if rid == id {
			b.byAgent[agentID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	pr.timer.Stop()

	select {
	case pr.responseCh <- decision:
		b.logger.Debug("permission request resolved",
			zap.String("agent_id", agentID), zap.String("request_id", id), zap.String("outcome", string(decision.Outcome)))
		return nil
	default:
		// Already delivered by a racing resolver (e.g. timeout firing just
		// after a client Respond acquired the map entry); safe to ignore.
		return nil
	}
}
