package engine

// State is a worker lifecycle state.
type State int

const (
	StateCreated State = iota
	StateBootstrapped
	StateExecuting
	StateLoadDispatch
	StateDraining
	StateUnloadDispatch
	StateTerminated
)

var stateNames = [...]string{
	StateCreated:        "Created",
	StateBootstrapped:   "Bootstrapped",
	StateExecuting:      "Executing",
	StateLoadDispatch:   "EventDispatch(load)",
	StateDraining:       "Draining",
	StateUnloadDispatch: "EventDispatch(unload)",
	StateTerminated:     "Terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// transition moves the worker to s and records it.
func (w *Worker) transition(s State) {
	w.mu.Lock()
	w.state = s
	w.history = append(w.history, s)
	w.mu.Unlock()

	w.logger.Debug("worker state", "state", s.String())

	if w.opts.OnTransition != nil {
		w.opts.OnTransition(s)
	}
}

// State returns the current lifecycle state. Safe to call from any
// goroutine.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// History returns every state the worker has entered, in order.
func (w *Worker) History() []State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]State(nil), w.history...)
}
