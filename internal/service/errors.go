package service

import "errors"

var (
	ErrArchiveDisabled    = errors.New("chat archive is not configured")
	ErrNotConnectionOwner = errors.New("participant is bound to another connection")
)
