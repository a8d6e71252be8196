package llm

import "errors"

// ErrEmptyResponse is the ModelRefusal error kind: an empty or invalid
// model response, treated as a hard "no" in decision cascades and as a
// cancellation of dependent analysis steps.
var ErrEmptyResponse = errors.New("llm: empty model response")

// ErrMalformedJSON is the ParseError kind for a schema-constrained call
// whose response could not be unmarshaled.
var ErrMalformedJSON = errors.New("llm: malformed json response")
