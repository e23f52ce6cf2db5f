package terminal

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	logger "github.com/paseohq/paseod/internal/logging"
	"github.com/paseohq/paseod/internal/session"
	"github.com/paseohq/paseod/internal/wsproto"
)

const initialTerminalName = "Terminal 1"

// ErrNotFound is returned for operations against an unknown or
// already-reaped terminal id (spec §4.5's killTerminal edge policy).
var ErrNotFound = fmt.Errorf("terminal: not found")

// CreateOptions parameterizes CreateTerminal.
type CreateOptions struct {
	CWD  string
	Name string
	Rows int
	Cols int
}

// InputKind identifies the payload shape of a sendTerminalInput call
// (spec §4.5).
type InputKind string

const (
	InputTypeInput  InputKind = "input"
	InputTypeResize InputKind = "resize"
	InputTypeSignal InputKind = "signal"
)

// InputRequest is the decoded body of sendTerminalInput.
type InputRequest struct {
	Type   InputKind `json:"type"`
	Data   string    `json:"data,omitempty"`
	Rows   int       `json:"rows,omitempty"`
	Cols   int       `json:"cols,omitempty"`
	Signal string    `json:"signal,omitempty"`
}

// Service owns every terminal keyed by (cwd, name) and publishes output
// and state updates onto the session hub (spec §4.5).
type Service struct {
	mu        sync.RWMutex
	byID      map[string]*Terminal
	byCWDName map[string]map[string]*Terminal

	hub    *session.Hub
	logger *logger.Logger
}

// NewService wires a Service to hub for fan-out; hub may be nil in tests.
func NewService(hub *session.Hub, log *logger.Logger) *Service {
	s := &Service{
		byID:      make(map[string]*Terminal),
		byCWDName: make(map[string]map[string]*Terminal),
		hub:       hub,
		logger:    log.WithFields(zap.String("component", "terminal-service")),
	}
	if hub != nil {
		hub.SetMultiplexHandler(s.handleMultiplex)
	}
	return s
}

// ListTerminals returns every terminal for cwd, auto-creating "Terminal 1"
// on the first call for that cwd (spec §4.5).
func (s *Service) ListTerminals(cwd string) ([]Snapshot, error) {
	s.mu.Lock()
	byName, ok := s.byCWDName[cwd]
	needsInitial := !ok || len(byName) == 0
	s.mu.Unlock()

	if needsInitial {
		if _, err := s.CreateTerminal(CreateOptions{CWD: cwd, Name: initialTerminalName}); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.byCWDName[cwd]))
	for _, t := range s.byCWDName[cwd] {
		out = append(out, t.Snapshot())
	}
	return out, nil
}

// CreateTerminal spawns a new PTY-backed shell for (cwd, name). name
// defaults to "Terminal N" where N is one past the current count.
func (s *Service) CreateTerminal(opts CreateOptions) (Snapshot, error) {
	s.mu.Lock()
	byName, ok := s.byCWDName[opts.CWD]
	if !ok {
		byName = make(map[string]*Terminal)
		s.byCWDName[opts.CWD] = byName
	}
	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("Terminal %d", len(byName)+1)
	}
	if existing, ok := byName[name]; ok && existing.State() != StateDead {
		s.mu.Unlock()
		return existing.Snapshot(), nil
	}
	s.mu.Unlock()

	id := uuid.New().String()
	t, err := newTerminal(id, opts.CWD, name, opts.Rows, opts.Cols, s.broadcastOutput, s.logger)
	if err != nil {
		return Snapshot{}, fmt.Errorf("terminal: create %q: %w", name, err)
	}

	s.mu.Lock()
	s.byID[id] = t
	s.byCWDName[opts.CWD][name] = t
	s.mu.Unlock()

	snap := t.Snapshot()
	s.publishState(t)
	return snap, nil
}

// SubscribeTerminal returns the current snapshot for id (spec §4.5: the
// initial subscribe response carries the full grid, never a separate
// priming query). Callers must also call Hub.Subscribe to register the
// connection for the "terminal:<id>" topic.
func (s *Service) SubscribeTerminal(id string) (Snapshot, error) {
	t, err := s.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return t.Snapshot(), nil
}

// SendInput dispatches one sendTerminalInput request (spec §4.5).
func (s *Service) SendInput(id string, req InputRequest) error {
	t, err := s.lookup(id)
	if err != nil {
		return err
	}

	switch req.Type {
	case InputTypeInput:
		if err := t.Write([]byte(req.Data)); err != nil {
			return err
		}
	case InputTypeResize:
		if err := t.Resize(req.Rows, req.Cols); err != nil {
			return err
		}
		s.publishState(t)
	case InputTypeSignal:
		sig, ok := signalByName(req.Signal)
		if !ok {
			return fmt.Errorf("terminal: unknown signal %q", req.Signal)
		}
		if err := t.Signal(sig); err != nil {
			return err
		}
	default:
		return fmt.Errorf("terminal: unknown input type %q", req.Type)
	}
	return nil
}

// KillTerminal sends SIGTERM then SIGKILL and reaps the process (spec
// §4.5). The terminal stays indexed, in StateDead, until Evict removes
// it; callers drop their reference to the hub subscription separately.
func (s *Service) KillTerminal(id string) error {
	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	t.Kill()
	s.publishState(t)
	return nil
}

// Evict removes a dead terminal from the index. The unsubscribe_terminal
// handler calls it after every unsubscribe. The subscriber count it checks
// is the Terminal's own subscriber set, which hub topic subscriptions do
// not add to, so the first unsubscribe after the terminal dies evicts it
// even while other connections are still subscribed, and a connection that
// disconnects without unsubscribing does not evict it.
func (s *Service) Evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok || t.State() != StateDead || t.subscriberCount() > 0 {
		return
	}
	delete(s.byID, id)
	if byName, ok := s.byCWDName[t.cwd]; ok {
		delete(byName, t.name)
	}
}

func (s *Service) lookup(id string) (*Terminal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// broadcastOutput carries raw PTY bytes over the binary multiplex
// (channel Terminal, message OutputUtf8) with a monotonically increasing
// per-stream offset (spec §4.5).
func (s *Service) broadcastOutput(t *Terminal, data []byte) {
	if s.hub == nil {
		return
	}
	offset := t.NextOffset(len(data))
	frame := wsproto.MultiplexFrame{
		Version:     1,
		Channel:     wsproto.ChannelTerminal,
		MessageType: wsproto.MessageTypeOutputUTF8,
		StreamID:    t.StreamID(),
		Offset:      offset,
		Payload:     data,
	}
	s.hub.Publish(session.TopicEvent{Topic: "terminal:" + t.id, Multiplex: &frame})
}

// handleMultiplex processes inbound binary frames on the session hub,
// i.e. subscriber Ack frames for output backlog (spec §4.5). Acks are
// currently accounting-only: the terminal has no retransmit window to
// trim, since broadcastOutput does not buffer past data for replay.
func (s *Service) handleMultiplex(client *session.Client, frame wsproto.MultiplexFrame) {
	if frame.Channel != wsproto.ChannelTerminal || frame.MessageType != wsproto.MessageTypeAck {
		return
	}
	s.logger.Debug("terminal output ack", zap.Uint32("stream_id", frame.StreamID), zap.Uint64("offset", frame.Offset))
}

// publishState pushes a terminal_state snapshot on the terminal's
// subscription topic (spec §4.5's output-broadcast requirement for
// screen mutations).
func (s *Service) publishState(t *Terminal) {
	if s.hub == nil {
		return
	}
	env, err := wsproto.NewEvent(wsproto.TypeTerminalState, t.Snapshot())
	if err != nil {
		s.logger.Error("failed to encode terminal_state event", zap.Error(err))
		return
	}
	s.hub.Publish(session.TopicEvent{Topic: "terminal:" + t.id, Envelope: env})
}
