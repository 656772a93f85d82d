package common

import "errors"

// ErrNotFound is the shared not-found sentinel Storage implementations
// compare against (see srv/sqlite/*.go). srv.ErrNotFound wraps this same
// value so callers can use either package's name interchangeably with
// errors.Is.
var ErrNotFound = errors.New("not found")
