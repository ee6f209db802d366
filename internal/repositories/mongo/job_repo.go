package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/callguard/internal/models"
	"github.com/yoockh/callguard/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type JobRepository interface {
	Create(ctx context.Context, j *models.JobRecord) error
	Get(ctx context.Context, jobID string) (*models.JobRecord, error)
	SetStatus(ctx context.Context, jobID string, status models.JobStatus, progress int, errMsg string) error
	SetResult(ctx context.Context, jobID string, result *models.RawVerdict) error
}

type jobRepo struct {
	col *mongo.Collection
}

func NewJobRepo(db *mongo.Database) JobRepository {
	return &jobRepo{col: db.Collection("detection_jobs")}
}

func (r *jobRepo) Create(ctx context.Context, j *models.JobRecord) error {
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, j)
	return err
}

func (r *jobRepo) Get(ctx context.Context, jobID string) (*models.JobRecord, error) {
	var j models.JobRecord
	err := r.col.FindOne(ctx, bson.M{"job_id": jobID}).Decode(&j)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &j, err
}

func (r *jobRepo) SetStatus(ctx context.Context, jobID string, status models.JobStatus, progress int, errMsg string) error {
	set := bson.M{
		"status":     status,
		"progress":   progress,
		"updated_at": time.Now().UTC(),
	}
	if errMsg != "" {
		set["error"] = errMsg
	}
	_, err := r.col.UpdateOne(ctx, bson.M{"job_id": jobID}, bson.M{"$set": set})
	return err
}

func (r *jobRepo) SetResult(ctx context.Context, jobID string, result *models.RawVerdict) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"job_id": jobID},
		bson.M{"$set": bson.M{
			"result":     result,
			"updated_at": time.Now().UTC(),
		}},
	)
	return err
}
