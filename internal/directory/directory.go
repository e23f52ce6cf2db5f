// Package directory implements the Directory & Labels component (spec
// §3.1, §4.6): it tracks the membership set of user-facing agents
// (labels.ui == "true") and answers the agent_directory subscription's
// guarantee that an initial subscribe carries the current member list.
package directory

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/paseohq/paseod/internal/agent"
	logger "github.com/paseohq/paseod/internal/logging"
	"github.com/paseohq/paseod/internal/session"
	"github.com/paseohq/paseod/internal/wsproto"
)

const topic = "agent_directory"

// Directory caches the current user-facing agent set, kept current via
// Update calls (removed=true for a deleted agent) wired from
// agent.Manager's directory observer.
type Directory struct {
	mu      sync.RWMutex
	members map[string]agent.Snapshot

	hub    *session.Hub
	logger *logger.Logger
}

// New creates an empty Directory publishing membership snapshots through
// hub.
func New(hub *session.Hub, log *logger.Logger) *Directory {
	return &Directory{
		members: make(map[string]agent.Snapshot),
		hub:     hub,
		logger:  log.WithFields(zap.String("component", "directory")),
	}
}

// Update applies one agent snapshot: inserted/refreshed while it remains a
// non-archived, user-facing agent; removed otherwise (label mutated off,
// archived, or removed explicitly). Matches the signature expected by
// agent.Manager.SetDirectoryObserver.
func (d *Directory) Update(snap agent.Snapshot, removed bool) {
	d.mu.Lock()
	member := !removed && snap.Labels[agent.UILabelKey] == "true" && snap.ArchivedAt == nil
	if member {
		d.members[snap.ID] = snap
	} else {
		delete(d.members, snap.ID)
	}
	d.mu.Unlock()

	d.publishSnapshot()
}

// Members returns the current member list, sorted by id for deterministic
// output.
func (d *Directory) Members() []agent.Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]agent.Snapshot, 0, len(d.members))
	for _, snap := range d.members {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscribe registers client's subscriptionID on the agent_directory topic
// and immediately pushes the full current member list, satisfying spec
// §4.6's "initial response includes current state" guarantee.
func (d *Directory) Subscribe(client *session.Client, subscriptionID string) {
	d.hub.Subscribe(client, subscriptionID, topic)
	d.publishSnapshot()
}

// Unsubscribe tears down client's agent_directory subscription.
func (d *Directory) Unsubscribe(client *session.Client, subscriptionID string) {
	d.hub.Unsubscribe(client, subscriptionID)
}

func (d *Directory) publishSnapshot() {
	env, err := wsproto.NewEvent(wsproto.TypeAgentDirectoryUpdate, map[string]interface{}{
		"agents": d.Members(),
	})
	if err != nil {
		d.logger.Error("failed to encode agent_directory_update", zap.Error(err))
		return
	}
	d.hub.Publish(session.TopicEvent{Topic: topic, Envelope: env})
}
