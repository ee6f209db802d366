package config

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func EnsureMongoIndexes(dbName string) error {
	if MongoClient == nil {
		return errors.New("MongoClient is nil; call InitMongo() first")
	}
	db := MongoClient.Database(dbName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	jobs := db.Collection("detection_jobs")
	_, err := jobs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		// TTL: status documents disappear once expires_at passes
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().
				SetName("ttl_expires_at").
				SetExpireAfterSeconds(0),
		},
		{
			Keys: bson.D{{Key: "job_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_job_id").
				SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "call_id", Value: 1}, {Key: "submitted_at", Value: -1}},
			Options: options.Index().SetName("by_call_submitted"),
		},
	})
	return err
}
