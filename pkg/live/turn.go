package live

// turn accumulates one exchange until the provider signals its end.
// It is owned by the session's event loop.
type turn struct {
	user      string
	assistant string

	// started is set by the first event of the exchange.
	started bool
	// endRequested is set by EventTurnEnd; finalization waits for tools.
	endRequested bool
	pendingTools int
}

func (t *turn) begin() bool {
	if t.started {
		return false
	}
	t.started = true
	return true
}

func (t *turn) appendUser(delta string) {
	t.user += delta
}

func (t *turn) appendAssistant(delta string) {
	t.assistant += delta
}

// ready reports whether the turn may be finalized now.
func (t *turn) ready() bool {
	return t.endRequested && t.pendingTools == 0
}

// finalize resets the turn and reports its texts. ok is false when both
// texts are empty, in which case no handler should run.
func (t *turn) finalize() (user, assistant string, ok bool) {
	user, assistant = t.user, t.assistant
	*t = turn{}
	return user, assistant, user != "" || assistant != ""
}
