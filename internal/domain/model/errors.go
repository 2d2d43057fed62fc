package model

import "errors"

// ErrNotFound is wrapped by stores when a lookup matches nothing.
var ErrNotFound = errors.New("not found")
