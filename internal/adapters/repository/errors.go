package repository

import (
	"errors"

	"github.com/okian/wellness/internal/domain/model"
)

// Sentinel kinds for repository errors.
var (
	ErrNotFound            = model.ErrNotFound
	ErrInvalidLimit        = errors.New("invalid page limit")
	ErrInvalidPayload      = errors.New("raw payload is not valid json")
	ErrInvalidObservation  = errors.New("invalid observation")
	ErrDuplicateConnection = errors.New("connection already exists")
	ErrNotReady            = errors.New("store schema not ready")
)
