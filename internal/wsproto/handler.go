package wsproto

import "context"

// Handler processes one inbound request envelope and returns the payload
// for its `<type>_response`.
type Handler interface {
	Handle(ctx context.Context, req *Envelope) (interface{}, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Envelope) (interface{}, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req *Envelope) (interface{}, error) {
	return f(ctx, req)
}

// Dispatcher routes request envelopes to the handler registered for their
// `type`, per spec §6.2's inbound message taxonomy.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register associates a Handler with an inbound message type.
func (d *Dispatcher) Register(msgType string, handler Handler) {
	d.handlers[msgType] = handler
}

// RegisterFunc associates a HandlerFunc with an inbound message type.
func (d *Dispatcher) RegisterFunc(msgType string, handler HandlerFunc) {
	d.handlers[msgType] = handler
}

// Dispatch routes req to its registered handler and wraps the result (or
// error) into the matching `<type>_response` envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Envelope) *Envelope {
	handler, ok := d.handlers[req.Type]
	if !ok {
		return NewErrorResponse(req.RequestID, req.Type, ErrorKindValidation, "unknown message type: "+req.Type)
	}

	result, err := handler.Handle(ctx, req)
	if err != nil {
		return NewErrorResponse(req.RequestID, req.Type, ErrorKindFor(err), err.Error())
	}

	resp, err := NewResponse(req.RequestID, req.Type, result)
	if err != nil {
		return NewErrorResponse(req.RequestID, req.Type, ErrorKindInternal, err.Error())
	}
	return resp
}

// HasHandler reports whether a handler is registered for msgType.
func (d *Dispatcher) HasHandler(msgType string) bool {
	_, ok := d.handlers[msgType]
	return ok
}
