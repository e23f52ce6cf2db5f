// Package wsproto defines the wire envelope exchanged over the session
// hub's WebSocket endpoint (spec §6.1/§6.2): a flat JSON envelope whose
// `type` field IS the message/event name (e.g. "create_agent", "welcome",
// "create_agent_response"), correlated by `requestId` rather than the
// separate request/response/notification/action fields a generic RPC
// envelope would use.
package wsproto

import (
	"encoding/json"
	"fmt"
)

// Envelope is every frame exchanged over /ws, in both directions.
type Envelope struct {
	Type string `json:"type"`

	// RequestID correlates a client request with its `<type>_response`
	// (set by the client on requests, echoed back by the host) or
	// identifies which pending inbound request a host->client request
	// answers (e.g. permission_requested).
	RequestID string `json:"requestId,omitempty"`

	// Error is set on a `<type>_response` frame when the request failed.
	Error *ErrorPayload `json:"error,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the error shape carried on a failed `<request>_response`
// frame, per spec §7's error-kind taxonomy.
type ErrorPayload struct {
	Kind    string `json:"kind"` // "validation" | "not_found" | "conflict" | "provider" | "internal"
	Message string `json:"message"`
}

// NewRequest builds an inbound client->host request envelope.
func NewRequest(requestID, msgType string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wsproto: marshal request payload: %w", err)
	}
	return &Envelope{Type: msgType, RequestID: requestID, Payload: data}, nil
}

// NewResponse builds the `<request>_response` envelope answering requestID.
func NewResponse(requestID, requestType string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wsproto: marshal response payload: %w", err)
	}
	return &Envelope{Type: requestType + "_response", RequestID: requestID, Payload: data}, nil
}

// NewErrorResponse builds a failed `<request>_response` envelope.
func NewErrorResponse(requestID, requestType, kind, message string) *Envelope {
	return &Envelope{
		Type:      requestType + "_response",
		RequestID: requestID,
		Error:     &ErrorPayload{Kind: kind, Message: message},
	}
}

// NewEvent builds an unsolicited host->client push (e.g. agent_stream,
// checkout_diff_update, terminal_state).
func NewEvent(msgType string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wsproto: marshal event payload: %w", err)
	}
	return &Envelope{Type: msgType, Payload: data}, nil
}

// ParsePayload decodes the envelope's payload into v.
func (e *Envelope) ParsePayload(v interface{}) error {
	if e.Payload == nil {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
