// Package motion provides the cooperative command-supersession primitive
// shared by every actuator on the robot.
//
// Each actuator owns a Supervisor holding the token of its current command.
// Starting a command installs a fresh token; an in-flight move loop polls
// IsCurrent between physical steps and exits as soon as its token has been
// replaced. The last writer always wins and there is no preemption beyond
// step granularity.
package motion

import "go.uber.org/atomic"

// Token identifies one in-flight command on an actuator. Tokens support
// equality only; they carry no ordering and are never reused within a
// process. The zero Token matches no command.
type Token struct {
	gen uint64
}

var generation atomic.Uint64

// NewToken mints a fresh token from the process-wide generation counter.
func NewToken() Token {
	return Token{gen: generation.Inc()}
}

// A Supervisor owns the current token for a single actuator. Any goroutine
// may replace the token; move loops only ever read it.
type Supervisor struct {
	cur atomic.Uint64
}

// Supersede mints a fresh token and installs it as current, invalidating
// whatever command is in flight. It returns the new token.
func (s *Supervisor) Supersede() Token {
	t := NewToken()
	s.cur.Store(t.gen)
	return t
}

// Adopt installs a token minted elsewhere. Paired commands use this to run
// several actuators under one shared token.
func (s *Supervisor) Adopt(t Token) {
	s.cur.Store(t.gen)
}

// Current returns the token of the command currently owning the actuator.
func (s *Supervisor) Current() Token {
	return Token{gen: s.cur.Load()}
}

// IsCurrent reports whether t still owns the actuator.
func (s *Supervisor) IsCurrent(t Token) bool {
	return s.cur.Load() == t.gen
}
