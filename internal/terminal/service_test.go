package terminal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logger "github.com/paseohq/paseod/internal/logging"
)

func newTestServiceLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func TestListTerminalsAutoCreatesTerminalOne(t *testing.T) {
	s := NewService(nil, newTestServiceLogger(t))

	terms, err := s.ListTerminals("/tmp")
	require.NoError(t, err)
	require.Len(t, terms, 1)
	require.Equal(t, initialTerminalName, terms[0].Name)

	again, err := s.ListTerminals("/tmp")
	require.NoError(t, err)
	require.Len(t, again, 1)
}

func TestCreateTerminalDefaultNaming(t *testing.T) {
	s := NewService(nil, newTestServiceLogger(t))

	first, err := s.CreateTerminal(CreateOptions{CWD: "/tmp"})
	require.NoError(t, err)
	require.Equal(t, "Terminal 1", first.Name)

	second, err := s.CreateTerminal(CreateOptions{CWD: "/tmp"})
	require.NoError(t, err)
	require.Equal(t, "Terminal 2", second.Name)
}

func TestSendInputAcceptedWhileRunning(t *testing.T) {
	s := NewService(nil, newTestServiceLogger(t))
	snap, err := s.CreateTerminal(CreateOptions{CWD: "/tmp"})
	require.NoError(t, err)

	require.NoError(t, s.SendInput(snap.ID, InputRequest{Type: InputTypeInput, Data: "echo hello\r"}))

	out, err := s.SubscribeTerminal(snap.ID)
	require.NoError(t, err)
	require.Equal(t, defaultRows, out.Rows)
	require.Equal(t, defaultCols, out.Cols)
}

func TestResizeUpdatesSnapshotDimensions(t *testing.T) {
	s := NewService(nil, newTestServiceLogger(t))
	snap, err := s.CreateTerminal(CreateOptions{CWD: "/tmp"})
	require.NoError(t, err)

	require.NoError(t, s.SendInput(snap.ID, InputRequest{Type: InputTypeResize, Rows: 30, Cols: 100}))

	out, err := s.SubscribeTerminal(snap.ID)
	require.NoError(t, err)
	require.Equal(t, 30, out.Rows)
	require.Equal(t, 100, out.Cols)
}

func TestKillTerminalThenSubscribeNotFound(t *testing.T) {
	s := NewService(nil, newTestServiceLogger(t))
	snap, err := s.CreateTerminal(CreateOptions{CWD: "/tmp"})
	require.NoError(t, err)

	require.NoError(t, s.KillTerminal(snap.ID))

	require.Eventually(t, func() bool {
		out, err := s.SubscribeTerminal(snap.ID)
		require.NoError(t, err)
		return out.State == StateDead
	}, 2*time.Second, 20*time.Millisecond)

	s.Evict(snap.ID)
	_, err = s.SubscribeTerminal(snap.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSendInputUnknownTerminal(t *testing.T) {
	s := NewService(nil, newTestServiceLogger(t))
	err := s.SendInput("does-not-exist", InputRequest{Type: InputTypeInput, Data: "x"})
	require.ErrorIs(t, err, ErrNotFound)
}
