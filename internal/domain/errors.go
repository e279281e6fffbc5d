// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity is in a state that does not allow the operation.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates structurally invalid input.
var ErrValidation = errors.New("validation failed")
