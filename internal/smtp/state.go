package smtp

// SessionState represents the current state of an SMTP session. Every
// transition is explicit; a command arriving in the wrong state is
// answered with 503 and leaves the state untouched.
type SessionState int

const (
	// StateConnected is the initial state, waiting for HELO/EHLO.
	StateConnected SessionState = iota
	// StateGreeted follows a successful HELO/EHLO.
	StateGreeted
	// StateMailFrom follows a successful MAIL FROM.
	StateMailFrom
	// StateRcptAccumulating holds after at least one accepted RCPT TO.
	StateRcptAccumulating
	// StateDataStreaming means the client is sending message content.
	StateDataStreaming
	// StateCommitting covers the window between the terminating dot and
	// the final reply, while recipients are fanned out.
	StateCommitting
	// StateClosed is the terminal state after QUIT.
	StateClosed
	// StateAborted is the terminal state after a protocol or I/O
	// failure. No further commands are processed.
	StateAborted
)

// String returns a human-readable representation of the session state.
func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateGreeted:
		return "GREETED"
	case StateMailFrom:
		return "MAIL_FROM"
	case StateRcptAccumulating:
		return "RCPT_ACCUMULATING"
	case StateDataStreaming:
		return "DATA_STREAMING"
	case StateCommitting:
		return "COMMITTING"
	case StateClosed:
		return "CLOSED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further commands are accepted in s.
func (s SessionState) Terminal() bool {
	return s == StateClosed || s == StateAborted
}
