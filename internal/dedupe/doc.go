// Package dedupe provides a size-bounded, time-windowed set of recently seen
// keys. The coordinator records finished turns here so a client retrying the
// same message id gets a conflict instead of a second reply.
package dedupe
