package domain

import "errors"

var (
	ErrHandleAbsent      = errors.New("stats handle absent")
	ErrUnknownDirection  = errors.New("unknown direction")
	ErrUnknownMediaKind  = errors.New("unknown media kind")
	ErrNoHandles         = errors.New("no stats handles")
	ErrMetricNotFound    = errors.New("metric not found")
	ErrSourceUnavailable = errors.New("stats source unavailable")
)
