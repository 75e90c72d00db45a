package imageproc

import "errors"

// ErrInvalidImage marks a decode failure caused by bad input, not by an
// infrastructure fault. The handler maps this to a 4xx response instead
// of a 500.
var ErrInvalidImage = errors.New("invalid image")

// ErrInternal marks an invariant violation inside the processor (e.g. a
// tree that walk() reports as present but whose shape contradicts what
// the processor itself would ever have written).
var ErrInternal = errors.New("internal processing error")
