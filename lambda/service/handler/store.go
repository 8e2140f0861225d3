package handler

import (
	"github.com/mra-mines/map-ingestion-service/pkg/domain"
	"github.com/mra-mines/map-ingestion-service/pkg/queries/dydb"
)

// TableNames bundles the DynamoDB table names the service operates on.
type TableNames struct {
	Maps string
	Jobs string
}

// Buckets bundles the S3 buckets the service touches.
type Buckets struct {
	Upload string
	Output string
}

// MapServiceStore provides the Queries interface and the AWS clients for the
// API routes.
type MapServiceStore struct {
	*dydb.Queries
	s3Client      domain.S3API
	presignClient domain.PresignAPI
	tables        TableNames
	buckets       Buckets
}

// NewMapServiceStore returns a MapServiceStore object which implements the Queries
func NewMapServiceStore(db dydb.DB, s3Client domain.S3API, presignClient domain.PresignAPI,
	tables TableNames, buckets Buckets) *MapServiceStore {
	return &MapServiceStore{
		Queries:       dydb.New(db),
		s3Client:      s3Client,
		presignClient: presignClient,
		tables:        tables,
		buckets:       buckets,
	}
}
