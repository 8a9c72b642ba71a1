package generate

// errorStream is a rag.Stream that yields a single human-readable error
// fragment and then ends. It is how backend failures surface to the caller:
// a terminal state, not an error thrown across the component boundary.
type errorStream struct {
	// msg is the error fragment to deliver.
	msg string
	// sent is true once the fragment has been delivered.
	sent bool
}

// newErrorStream constructs a terminal single-fragment stream.
func newErrorStream(msg string) *errorStream {
	return &errorStream{msg: msg}
}

// Recv delivers the error fragment once, then reports end-of-stream.
func (s *errorStream) Recv() (string, bool) {
	if s.sent {
		return "", false
	}
	s.sent = true
	return s.msg, true
}
