package id

import (
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

const (
	taskPrefix = "task-"
	logPrefix  = "log-"
)

// NewTaskID returns an id for submissions that arrive without a
// platform-assigned one (HTTP and console). Task ids are KSUIDs, so they sort
// in creation order.
func NewTaskID() string {
	return taskPrefix + ksuid.New().String()
}

// NewLogID returns a log correlation id. It is a UUIDv7, falling back to a
// KSUID if the random source fails.
func NewLogID() string {
	v7, err := uuid.NewV7()
	if err != nil {
		return logPrefix + ksuid.New().String()
	}
	return logPrefix + v7.String()
}
