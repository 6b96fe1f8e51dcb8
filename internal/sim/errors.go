package sim

import "errors"

// errTickFailed marks an actor tick that panicked; the actor is skipped
// for the current tick only.
var errTickFailed = errors.New("actor tick failed")
