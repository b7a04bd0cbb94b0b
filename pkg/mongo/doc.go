// Package mongo opens the MongoDB connection holding the subscription mirror.
//
// New retries the initial connect and primary ping, which covers a database
// container that is still starting:
//
//	db, err := mongo.NewWithDatabase(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer db.Client().Disconnect(context.Background())
//
//	ready := mongo.Healthcheck(db.Client())
package mongo
