package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrInvalidTransition indicates a status update was rejected because the
// stored status does not permit the requested transition.
var ErrInvalidTransition = errors.New("repository: illegal status transition")

// ErrDuplicate indicates an insert violated a uniqueness constraint, such
// as a second active deployment for the same project.
var ErrDuplicate = errors.New("repository: duplicate record")
