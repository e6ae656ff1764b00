package engine

import "errors"

var (
	ErrNotReady             = errors.New("softphone is not ready")
	ErrSuppressed           = errors.New("transition suppressed during hangup cooldown")
	ErrDisposed             = errors.New("engine disposed")
	ErrBusy                 = errors.New("cannot initialize while a call is in progress")
	ErrEmptyNumber          = errors.New("number is required")
	ErrBootstrapUnavailable = errors.New("widget bootstrap function unavailable")
)
