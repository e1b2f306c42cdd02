// Package mock provides test doubles for the realtime package interfaces.
//
// Use Provider to verify Connect calls and feed a controlled session. Use
// Session to push scripted inbound messages through the pipeline and inspect
// which methods the session manager invoked.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Push(realtime.InboundMessage{Payload: []byte(`{...}`)})
//	sess.Finish(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxweave/pkg/realtime"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg realtime.SessionConfig
}

// Provider is a mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a fresh default Session.
	Session realtime.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Ensure Provider implements realtime.Provider at compile time.
var _ realtime.Provider = (*Provider)(nil)

// Session is a mock implementation of realtime.SessionHandle. Push scripted
// messages with Push and end the stream with Finish.
type Session struct {
	mu sync.Mutex

	// MuteCalls records the arguments of every Mute invocation.
	MuteCalls []bool

	// MuteErr, if non-nil, is returned from Mute.
	MuteErr error

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	messages chan realtime.InboundMessage
	errVal   error
	finished bool
}

// NewSession creates a Session with a buffered message channel.
func NewSession() *Session {
	return &Session{
		messages: make(chan realtime.InboundMessage, 64),
	}
}

// Push delivers one scripted inbound message. Panics if called after Finish,
// mirroring a real transport that never delivers past stream end.
func (s *Session) Push(msg realtime.InboundMessage) {
	s.messages <- msg
}

// Finish closes the message stream with the given terminal error (nil for a
// clean close). Calling Finish more than once is a no-op.
func (s *Session) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.errVal = err
	close(s.messages)
}

// Messages returns the scripted inbound message stream.
func (s *Session) Messages() <-chan realtime.InboundMessage { return s.messages }

// Mute records the call and returns MuteErr.
func (s *Session) Mute(muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MuteCalls = append(s.MuteCalls, muted)
	return s.MuteErr
}

// Err returns the terminal error set by Finish.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close records the call and finishes the stream if still open.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	alreadyFinished := s.finished
	s.finished = true
	s.mu.Unlock()

	if !alreadyFinished {
		close(s.messages)
	}
	return nil
}

// Ensure Session implements realtime.SessionHandle at compile time.
var _ realtime.SessionHandle = (*Session)(nil)
