package bllink

import (
	"bytes"
	"fmt"
)

// Match selects how a response is recognised as the answer to a request.
// The zero value matches the full request as prefix.
type Match struct {
	partial bool
	length  int
}

// FullPrefix accepts a response once it starts with all the request bytes.
func FullPrefix() Match { return Match{} }

// PartialPrefix accepts a response once its first n bytes equal the first n
// bytes of the request.
func PartialPrefix(n int) Match { return Match{partial: true, length: n} }

func (m Match) String() string {
	if !m.partial {
		return "full prefix"
	}
	return fmt.Sprintf("first %d bytes", m.length)
}

func (m Match) validate(request []byte) error {
	if m.partial && (m.length < 0 || m.length > len(request)) {
		return fmt.Errorf("%w: match length %d cannot be greater than data length %d", ErrInvalidArgument, m.length, len(request))
	}
	return nil
}

// prefix returns the part of the request a response has to start with.
func (m Match) prefix(request []byte) []byte {
	if !m.partial {
		return request
	}
	return request[:m.length]
}

func (m Match) matches(request, response []byte) bool {
	return bytes.HasPrefix(response, m.prefix(request))
}
