package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paseohq/paseod/internal/agent"
	logger "github.com/paseohq/paseod/internal/logging"
	"github.com/paseohq/paseod/internal/session"
	"github.com/paseohq/paseod/internal/wsproto"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func userFacing(id string) agent.Snapshot {
	return agent.Snapshot{ID: id, Labels: map[string]string{agent.UILabelKey: "true"}}
}

func TestUpdateAddsUserFacingAgent(t *testing.T) {
	d := New(session.NewHub(wsproto.NewDispatcher(), newTestLogger(t)), newTestLogger(t))

	d.Update(userFacing("a1"), false)

	members := d.Members()
	require.Len(t, members, 1)
	require.Equal(t, "a1", members[0].ID)
}

func TestUpdateOmitsBackgroundAgent(t *testing.T) {
	d := New(session.NewHub(wsproto.NewDispatcher(), newTestLogger(t)), newTestLogger(t))

	d.Update(agent.Snapshot{ID: "bg1", Labels: map[string]string{}}, false)

	require.Empty(t, d.Members())
}

func TestUpdateRemovesArchivedAgent(t *testing.T) {
	d := New(session.NewHub(wsproto.NewDispatcher(), newTestLogger(t)), newTestLogger(t))

	snap := userFacing("a1")
	d.Update(snap, false)
	require.Len(t, d.Members(), 1)

	archivedAt := time.Now()
	snap.ArchivedAt = &archivedAt
	d.Update(snap, false)

	require.Empty(t, d.Members())
}

func TestUpdateRemovedFlagDeletesMember(t *testing.T) {
	d := New(session.NewHub(wsproto.NewDispatcher(), newTestLogger(t)), newTestLogger(t))

	d.Update(userFacing("a1"), false)
	require.Len(t, d.Members(), 1)

	d.Update(userFacing("a1"), true)
	require.Empty(t, d.Members())
}

func TestSubscribePublishesCurrentMembers(t *testing.T) {
	hub := session.NewHub(wsproto.NewDispatcher(), newTestLogger(t))
	d := New(hub, newTestLogger(t))
	d.Update(userFacing("a1"), false)

	client := session.NewClient("client-1", nil, hub, newTestLogger(t))
	d.Subscribe(client, "sub-1")
	d.Unsubscribe(client, "sub-1")
}
