package handler

import (
	"github.com/mra-mines/map-ingestion-service/pkg/domain"
	"github.com/mra-mines/map-ingestion-service/pkg/queries/dydb"
)

// FinalizeStore wraps the clients the output handler needs to close out a
// job and notify its submitter.
type FinalizeStore struct {
	*dydb.Queries
	s3Client  domain.S3API
	snsClient domain.SnsAPI
	jobsTable string
	topicArn  string
}

// NewFinalizeStore returns a FinalizeStore.
func NewFinalizeStore(db dydb.DB, s3Client domain.S3API, snsClient domain.SnsAPI,
	jobsTable string, topicArn string) *FinalizeStore {
	return &FinalizeStore{
		Queries:   dydb.New(db),
		s3Client:  s3Client,
		snsClient: snsClient,
		jobsTable: jobsTable,
		topicArn:  topicArn,
	}
}
