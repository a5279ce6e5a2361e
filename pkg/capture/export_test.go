package capture

import "time"

type funcClock func() time.Time

func (f funcClock) now() time.Time {
	return f()
}

// WithClock replaces the session clock in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.clock = funcClock(now)
	}
}
