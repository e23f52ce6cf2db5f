package agent

import "fmt"

// kindedError carries an error-kind classification so the session hub's
// dispatcher (wsproto.ErrorKindFor) can map it onto the wire's error-kind
// taxonomy (spec §7); the kind strings are wsproto's ErrorKind values.
type kindedError struct {
	kind    string
	message string
}

func (e *kindedError) Error() string     { return e.message }
func (e *kindedError) ErrorKind() string { return e.kind }

// ErrNotFound reports that no agent with the given id exists.
func ErrNotFound(agentID string) error {
	return &kindedError{kind: "not_found", message: fmt.Sprintf("agent: no such agent %q", agentID)}
}

// ErrBusy reports that sendMessage was called while the agent isn't idle
// (spec §4.1's concurrent sendMessage edge policy).
func ErrBusy(agentID string) error {
	return &kindedError{kind: "conflict", message: fmt.Sprintf("agent: %q is busy (agent_busy)", agentID)}
}

// ErrValidation reports a malformed request.
func ErrValidation(message string) error {
	return &kindedError{kind: "validation", message: message}
}

// ErrProvider reports a failure originating in the provider adapter.
func ErrProvider(message string) error {
	return &kindedError{kind: "provider", message: message}
}
