package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool { return s == JobSucceeded || s == JobFailed }

// InferenceJob is immutable once submitted.
type InferenceJob struct {
	JobID       string    `json:"job_id"`
	CallID      int64     `json:"call_id"`
	UserID      int64     `json:"user_id"`
	Modality    Modality  `json:"modality"`
	Payload     []byte    `json:"payload"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// JobRecord is the pollable status document of a job.
type JobRecord struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	JobID    string             `bson:"job_id" json:"job_id"`
	CallID   int64              `bson:"call_id" json:"call_id"`
	UserID   int64              `bson:"user_id" json:"user_id"`
	Modality Modality           `bson:"modality" json:"modality"`

	Status   JobStatus   `bson:"status" json:"status"`
	Progress int         `bson:"progress" json:"progress"`
	Error    string      `bson:"error,omitempty" json:"error,omitempty"`
	Result   *RawVerdict `bson:"result,omitempty" json:"result,omitempty"`

	SubmittedAt time.Time `bson:"submitted_at" json:"submitted_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`

	ExpiresAt time.Time `bson:"expires_at" json:"-"` // for TTL index
}
