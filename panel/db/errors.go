package db

import "errors"

var (
	ErrNotFound   = errors.New("record not found")
	ErrValidation = errors.New("invalid input")
	ErrConflict   = errors.New("conflicting record exists")
)
