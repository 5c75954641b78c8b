package stream

import "sync"

// stubChannel records everything sent to it and can be told to fail writes.
type stubChannel struct {
	mu      sync.Mutex
	events  []Event
	sendErr error
	closed  int
}

func newStubChannel() *stubChannel {
	return &stubChannel{}
}

func (s *stubChannel) Send(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *stubChannel) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

func (s *stubChannel) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *stubChannel) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubChannel) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}
