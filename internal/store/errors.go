package store

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConditionFailed   = errors.New("conditional update did not match")
	ErrAlreadyRegistered = errors.New("email already registered and paid")
	ErrDuplicate         = errors.New("already exists")
)
