package handler

import "github.com/mra-mines/map-ingestion-service/pkg/models/mapschema"

// UploadRequest is the body of POST /maps/upload. The content hash is
// computed client-side over the full archive before requesting the url.
type UploadRequest struct {
	FileName    string `json:"fileName"`
	ContentHash string `json:"contentHash"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
	JobId       string `json:"jobId,omitempty"`
	BatchSize   int64  `json:"batchSize,omitempty"`
}

type UploadResponse struct {
	MapId     string `json:"mapId"`
	JobId     string `json:"jobId"`
	Url       string `json:"url"`
	ExpiresIn int64  `json:"expiresIn"`
	Retry     bool   `json:"retry"`
}

type MapDTO struct {
	MapId         string              `json:"mapId"`
	MapName       string              `json:"mapName"`
	Status        string              `json:"status"`
	OwnerEmail    string              `json:"ownerEmail"`
	JobId         string              `json:"jobId"`
	CreatedAt     string              `json:"createdAt"`
	UpdatedAt     string              `json:"updatedAt,omitempty"`
	SizeBytes     int64               `json:"sizeBytes"`
	RetryCount    int64               `json:"retryCount,omitempty"`
	ErrorMessage  string              `json:"errorMessage,omitempty"`
	TaskStartedAt string              `json:"taskStartedAt,omitempty"`
	TaskStoppedAt string              `json:"taskStoppedAt,omitempty"`
	S3Output      *mapschema.S3Output `json:"s3Output,omitempty"`
}

type GetMapsResponse struct {
	Maps              []MapDTO `json:"maps"`
	ContinuationToken string   `json:"continuationToken,omitempty"`
}

type GetMapResponse struct {
	Maps []MapDTO `json:"maps"`
}

type JobDTO struct {
	JobId          string `json:"jobId"`
	SubmittedBy    string `json:"submittedBy"`
	Status         string `json:"status"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
	BatchSize      int64  `json:"batchSize"`
	ProcessedCount int64  `json:"processedCount"`
	FailedCount    int64  `json:"failedCount"`
}

type GetJobsResponse struct {
	Jobs              []JobDTO `json:"jobs"`
	ContinuationToken string   `json:"continuationToken,omitempty"`
}

type DownloadResponse struct {
	Message string `json:"message"`
	Url     string `json:"url"`
}

type DeleteResponse struct {
	Message    string `json:"message"`
	JobDeleted bool   `json:"jobDeleted"`
}

func mapDTO(m mapschema.MapTable) MapDTO {
	return MapDTO{
		MapId:         m.MapId,
		MapName:       m.MapName,
		Status:        m.Status,
		OwnerEmail:    m.OwnerEmail,
		JobId:         m.JobId,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		SizeBytes:     m.SizeBytes,
		RetryCount:    m.RetryCount,
		ErrorMessage:  m.ErrorMessage,
		TaskStartedAt: m.TaskStartedAt,
		TaskStoppedAt: m.TaskStoppedAt,
		S3Output:      m.S3Output,
	}
}

func jobDTO(j mapschema.JobTable) JobDTO {
	return JobDTO{
		JobId:          j.JobId,
		SubmittedBy:    j.SubmittedBy,
		Status:         j.Status,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		BatchSize:      j.BatchSize,
		ProcessedCount: j.ProcessedCount,
		FailedCount:    j.FailedCount,
	}
}
