package llm

// SliceStream replays a fixed list of events, then reports err.
type SliceStream struct {
	events []StreamEvent
	err    error
	pos    int
	closed bool
}

func NewSliceStream(events []StreamEvent, err error) *SliceStream {
	return &SliceStream{events: events, err: err, pos: -1}
}

func (s *SliceStream) Next() bool {
	if s.closed || s.pos+1 >= len(s.events) {
		s.pos = len(s.events)
		return false
	}
	s.pos++
	return true
}

func (s *SliceStream) Current() StreamEvent {
	if s.pos < 0 || s.pos >= len(s.events) {
		return StreamEvent{}
	}
	return s.events[s.pos]
}

func (s *SliceStream) Err() error {
	if s.pos >= len(s.events) {
		return s.err
	}
	return nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceStream) Closed() bool { return s.closed }
