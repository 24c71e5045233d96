package gitfs

import "errors"

// ErrNotExist is returned when a requested remote is not known to the pool.
var ErrNotExist = errors.New("gitfs: not found")
