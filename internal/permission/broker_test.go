package permission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logger "github.com/paseohq/paseod/internal/logging"
)

func newTestBroker(t *testing.T, timeout time.Duration) *Broker {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stdout"})
	require.NoError(t, err)
	return NewBroker(timeout, log)
}

func TestRespondDeliversDecisionToWaitingChannel(t *testing.T) {
	b := newTestBroker(t, time.Minute)
	req, ch := b.Request("agent-1", KindTool, "Bash", "Run ls", "", map[string]interface{}{"command": "ls"}, nil)

	require.NoError(t, b.Respond(req.ID, Decision{Outcome: OutcomeAllow}))

	select {
	case d := <-ch:
		require.Equal(t, OutcomeAllow, d.Outcome)
	case <-time.After(time.Second):
		t.Fatal("decision not delivered")
	}
}

func TestRespondTwiceIsIdempotentSecondCallNotFound(t *testing.T) {
	b := newTestBroker(t, time.Minute)
	req, _ := b.Request("agent-1", KindTool, "Bash", "", "", nil, nil)

	require.NoError(t, b.Respond(req.ID, Decision{Outcome: OutcomeAllow}))
	require.ErrorIs(t, b.Respond(req.ID, Decision{Outcome: OutcomeDeny}), ErrNotFound)
}

func TestCancelAgentResolvesAllPendingInFIFOOrder(t *testing.T) {
	b := newTestBroker(t, time.Minute)
	_, ch1 := b.Request("agent-1", KindTool, "Bash", "", "", nil, nil)
	_, ch2 := b.Request("agent-1", KindTool, "Write", "", "", nil, nil)

	b.CancelAgent("agent-1")

	d1 := <-ch1
	d2 := <-ch2
	require.Equal(t, OutcomeCanceled, d1.Outcome)
	require.Equal(t, OutcomeCanceled, d2.Outcome)
	require.Empty(t, b.Pending("agent-1"))
}

func TestTimeoutAutoDenies(t *testing.T) {
	b := newTestBroker(t, 20*time.Millisecond)
	_, ch := b.Request("agent-1", KindTool, "Bash", "", "", nil, nil)

	select {
	case d := <-ch:
		require.Equal(t, OutcomeTimeout, d.Outcome)
	case <-time.After(time.Second):
		t.Fatal("expected auto-deny on timeout")
	}
}

func TestRespondUnknownIDReturnsNotFound(t *testing.T) {
	b := newTestBroker(t, time.Minute)
	require.ErrorIs(t, b.Respond("does-not-exist", Decision{Outcome: OutcomeAllow}), ErrNotFound)
}

func TestRespondRejectsInvalidOutcome(t *testing.T) {
	b := newTestBroker(t, time.Minute)
	req, _ := b.Request("agent-1", KindTool, "Bash", "", "", nil, nil)
	require.Error(t, b.Respond(req.ID, Decision{Outcome: OutcomeCanceled}))
}
