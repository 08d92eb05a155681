package mongo

import (
	"context"
	"time"
)

var MongoTestConf = &Config{
	Host:           "localhost",
	Port:           "27018",
	DBName:         "comments_test",
	Collection:     "comments",
	ConnectTimeout: 2 * time.Second,
}

// StorageConnect is a helper function that establishes a connection to the predefined test Mongo instance.
// It returns a connected Storage object or an error if connection fails.
func StorageConnect(ctx context.Context) (*Storage, error) {
	return New(ctx, MongoTestConf)
}

// RestoreDB drops the comments collection to reset the database state.
// WARNING: Use only in tests to avoid data loss.
func RestoreDB(db *Storage) error {
	return db.coll().Drop(context.Background())
}
