package mock

import "errors"

// File-system errors surfaced by everything that reads or writes the mock tree.
// Callers match them with errors.Is; the wrapping error carries the path.
var (
	ErrNotFound      = errors.New("mock file not found")
	ErrWrite         = errors.New("mock file write failed")
	ErrAlreadyExists = errors.New("mock file already exists")
	ErrDelete        = errors.New("mock file delete failed")
	ErrEncode        = errors.New("mock encode failed")
	ErrDecode        = errors.New("mock decode failed")
)
