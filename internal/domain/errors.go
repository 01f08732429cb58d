package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every layer. Callers wrap these with fmt.Errorf("...: %w")
// and the API layer maps them to HTTP status codes with errors.Is.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrValidation is returned for malformed or rejected input.
	ErrValidation = errors.New("validation failed")

	// ErrUpstream is returned when a dependency (store, extractor) is unavailable.
	ErrUpstream = errors.New("upstream unavailable")

	// ErrMalformedEmbedding is returned when a stored or extracted embedding
	// cannot be decoded or has a different dimension than its counterpart.
	ErrMalformedEmbedding = errors.New("malformed embedding")

	// ErrNoFaceDetected is returned by an extractor when the image has no face.
	ErrNoFaceDetected = fmt.Errorf("%w: no face detected in image", ErrValidation)

	// ErrDuplicateCard is returned when registering a card number that already exists.
	ErrDuplicateCard = fmt.Errorf("%w: card number already registered", ErrValidation)
)
