package chat

// Handler receives session notifications in the order the changes were
// made. Calls are made outside the session lock, so a handler may read the
// session back, but it must not change the session from a callback.
type Handler interface {
	// OnChange is called after every change to the message list
	OnChange(messages []Message)

	// OnComplete is called with the final snapshot of a finished reply
	OnComplete(msg Message)

	// OnError is called for every error the session swallows
	OnError(err error)
}

// HandlerFunc is a function adapter for Handler interface
type HandlerFunc struct {
	ChangeFunc   func(messages []Message)
	CompleteFunc func(msg Message)
	ErrorFunc    func(err error)
}

// OnChange implements Handler
func (h HandlerFunc) OnChange(messages []Message) {
	if h.ChangeFunc != nil {
		h.ChangeFunc(messages)
	}
}

// OnComplete implements Handler
func (h HandlerFunc) OnComplete(msg Message) {
	if h.CompleteFunc != nil {
		h.CompleteFunc(msg)
	}
}

// OnError implements Handler
func (h HandlerFunc) OnError(err error) {
	if h.ErrorFunc != nil {
		h.ErrorFunc(err)
	}
}
