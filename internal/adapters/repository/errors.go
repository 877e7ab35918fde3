package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("job already exists")
	ErrInvalidLimit  = errors.New("invalid history limit")
	ErrJobFinished   = errors.New("job already finished")
	ErrInvalidResult = errors.New("result is missing or inconsistent")
)
