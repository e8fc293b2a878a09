package scheduler

// Trigger is a single-slot wake signal. Fire never blocks, and any number
// of fires before the next receive collapse into one wake.
type Trigger struct {
	ch chan struct{}
}

// NewTrigger creates an unfired trigger.
func NewTrigger() *Trigger {
	return &Trigger{ch: make(chan struct{}, 1)}
}

// Fire marks the trigger pending.
func (t *Trigger) Fire() {
	select {
	case t.ch <- struct{}{}:
	default:
	}
}

// C is received from to consume a pending fire.
func (t *Trigger) C() <-chan struct{} {
	return t.ch
}
