package handler

import (
	"github.com/mra-mines/map-ingestion-service/pkg/domain"
	"github.com/mra-mines/map-ingestion-service/pkg/queries/dydb"
)

// TableNames groups the DynamoDB tables the processor writes to.
type TableNames struct {
	Maps string
	Jobs string
}

// ProcessorStore wraps the clients for the fallback processor.
type ProcessorStore struct {
	*dydb.Queries
	s3Client     domain.S3API
	tables       TableNames
	outputBucket string
}

// NewProcessorStore returns a ProcessorStore.
func NewProcessorStore(db dydb.DB, s3Client domain.S3API, tables TableNames, outputBucket string) *ProcessorStore {
	return &ProcessorStore{
		Queries:      dydb.New(db),
		s3Client:     s3Client,
		tables:       tables,
		outputBucket: outputBucket,
	}
}
