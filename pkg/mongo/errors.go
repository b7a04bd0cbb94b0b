package mongo

import "errors"

var (
	ErrNoConnectionURL = errors.New("mongo: MONGODB_URL is empty")
	ErrConnect         = errors.New("mongo: could not connect")
	ErrNotReady        = errors.New("mongo: primary is not reachable")
)
