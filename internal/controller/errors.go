package controller

import "errors"

var (
	ErrNoUpdateSource = errors.New("no update source configured")
	ErrInvalidRequest = errors.New("invalid start request")
)
