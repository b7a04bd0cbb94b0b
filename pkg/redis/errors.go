package redis

import "errors"

var (
	ErrNoConnectionURL = errors.New("redis: REDIS_URL is empty")
	ErrInvalidURL      = errors.New("redis: invalid connection URL")
	ErrNotReady        = errors.New("redis: server did not answer PING in time")
	ErrUnhealthy       = errors.New("redis: PING failed")
)
