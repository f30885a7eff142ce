package engine

import "errors"

var (
	// ErrNavTimeout reports that a navigation could not reach its target
	// screen within the configured window.
	ErrNavTimeout = errors.New("navigation timeout")

	// ErrHomeResetExhausted reports that every bounded attempt to regain a
	// recognizable home screen has failed. It is fatal: the bot cannot make
	// further progress without operator intervention.
	ErrHomeResetExhausted = errors.New("home reset attempts exhausted")
)
