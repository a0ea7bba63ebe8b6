// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package modrun

import (
	"sync/atomic"
)

// platformInUse guards the process-wide platform. It is set by New and
// cleared by Close or Terminate.
var platformInUse atomic.Bool

func acquirePlatform() error {
	if !platformInUse.CompareAndSwap(false, true) {
		return ErrPlatformInUse
	}
	return nil
}

func releasePlatform() {
	platformInUse.Store(false)
}
