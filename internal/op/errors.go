package op

import "errors"

// Configuration errors.
var (
	ErrDuplicateOperator = errors.New("operator already registered")
	ErrRegistryFrozen    = errors.New("registry is frozen after first create")
	ErrMissingParam      = errors.New("missing parameter record")
	ErrInvalidParam      = errors.New("invalid parameter")
)

// Lookup errors.
var (
	ErrNoOperator    = errors.New("no such operator/type combination")
	ErrMissingTensor = errors.New("missing tensor")
)

// Unsupported-combination and shape errors.
var (
	ErrUnsupported   = errors.New("unsupported")
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrShapeChanged  = errors.New("input shape changed after first run")
)
