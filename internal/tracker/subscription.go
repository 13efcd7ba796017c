package tracker

import "sync"

// Subscription is one consumer's handle on a key.
type Subscription struct {
	ID string

	tracker *Tracker
	entry   *entry
	updates chan View
	once    sync.Once
}

// Updates delivers the latest View after every change. Intermediate views
// are dropped when the consumer falls behind. The channel is closed by
// Close.
func (s *Subscription) Updates() <-chan View {
	return s.updates
}

func (s *Subscription) View() View {
	return s.entry.snapshot()
}

// Close is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() { s.tracker.release(s) })
}

// push must be called with the entry lock held.
func (s *Subscription) push(v View) {
	for {
		select {
		case s.updates <- v:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}
