// Package mapschema defines the DynamoDB records for maps and jobs and the
// status machines that govern them.
package mapschema

import (
	"fmt"
	"time"
)

// MapTable is the record for a single uploaded map. The table is keyed on
// (mapId, mapName); mapId is derived from the content hash so identical
// files collide on purpose.
type MapTable struct {
	MapId         string    `dynamodbav:"mapId"`
	MapName       string    `dynamodbav:"mapName"`
	Status        string    `dynamodbav:"status"`
	OwnerEmail    string    `dynamodbav:"ownerEmail"`
	JobId         string    `dynamodbav:"jobId"`
	CreatedAt     string    `dynamodbav:"createdAt"`
	UpdatedAt     string    `dynamodbav:"updatedAt,omitempty"`
	SizeBytes     int64     `dynamodbav:"sizeBytes"`
	MapVersion    int64     `dynamodbav:"mapVersion"`
	RetryCount    int64     `dynamodbav:"retryCount,omitempty"`
	ErrorMessage  string    `dynamodbav:"errorMessage,omitempty"`
	TaskArn       string    `dynamodbav:"taskArn,omitempty"`
	TaskStartedAt string    `dynamodbav:"taskStartedAt,omitempty"`
	TaskStoppedAt string    `dynamodbav:"taskStoppedAt,omitempty"`
	ProcessedAt   string    `dynamodbav:"processedAt,omitempty"`
	S3Output      *S3Output `dynamodbav:"s3Output,omitempty"`
}

// MapPrimaryKey is the composite key of the maps table.
type MapPrimaryKey struct {
	MapId   string `dynamodbav:"mapId"`
	MapName string `dynamodbav:"mapName"`
}

// S3Output points at the processed result for a completed map.
type S3Output struct {
	Bucket string `dynamodbav:"bucket" json:"bucket"`
	Key    string `dynamodbav:"key" json:"key"`
	Url    string `dynamodbav:"url" json:"url"`
}

// JobTable aggregates the maps uploaded together in one batch.
type JobTable struct {
	JobId              string `dynamodbav:"jobId"`
	SubmittedBy        string `dynamodbav:"submittedBy"`
	Status             string `dynamodbav:"status"`
	CreatedAt          string `dynamodbav:"createdAt"`
	UpdatedAt          string `dynamodbav:"updatedAt,omitempty"`
	NotificationStatus string `dynamodbav:"notificationStatus"`
	AttemptCount       int64  `dynamodbav:"attemptCount"`
	MapSource          string `dynamodbav:"mapSource"`
	BatchSize          int64  `dynamodbav:"batchSize"`
	ProcessedCount     int64  `dynamodbav:"processedCount"`
	FailedCount        int64  `dynamodbav:"failedCount"`
	OutputBucket       string `dynamodbav:"outputBucket,omitempty"`
	OutputKey          string `dynamodbav:"outputKey,omitempty"`
	ErrorMessage       string `dynamodbav:"errorMessage,omitempty"`
}

// MapSourceUserUpload marks jobs created through the upload UI.
const MapSourceUserUpload = "USER_UPLOAD"

// MapIdFromHash derives the map identity from the sha256 content hash of the
// uploaded archive.
func MapIdFromHash(sha256Hex string) (string, error) {
	if len(sha256Hex) < 12 {
		return "", fmt.Errorf("content hash too short: %q", sha256Hex)
	}
	return "map_" + sha256Hex[:12], nil
}

// Timestamp renders t the way every record stores time: ISO 8601 UTC with
// millisecond precision and a trailing Z.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// ParseTimestamp reads a stored timestamp back. The zero time is returned
// for empty or malformed values.
func ParseTimestamp(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05.000Z", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// LastTouched returns the most recent of the record's timestamps, used to
// age a RESERVED record against the reservation window.
func (m *MapTable) LastTouched() time.Time {
	if m.UpdatedAt != "" {
		return ParseTimestamp(m.UpdatedAt)
	}
	return ParseTimestamp(m.CreatedAt)
}

// TruncateError caps persisted error messages.
func TruncateError(msg string) string {
	const limit = 500
	if len(msg) > limit {
		return msg[:limit]
	}
	return msg
}
