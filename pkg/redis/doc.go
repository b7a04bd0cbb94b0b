// Package redis connects billsync to Redis, which backs the distributed
// single-flight lock used when several billsync instances share one mirror.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	ready := redis.Healthcheck(client)
//
// Connect retries until PING succeeds or cfg.ConnectTimeout elapses.
package redis
