package common

import "errors"

// ErrInvalidArgument marks parameter errors that make an analysis call
// impossible to run. Degenerate but well-typed input never produces it.
var ErrInvalidArgument = errors.New("invalid argument")
