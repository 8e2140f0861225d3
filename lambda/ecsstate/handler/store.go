package handler

import (
	"github.com/mra-mines/map-ingestion-service/pkg/domain"
	"github.com/mra-mines/map-ingestion-service/pkg/queries/dydb"
)

// TimingStore wraps the clients for recording processor task timings.
type TimingStore struct {
	*dydb.Queries
	ecsClient domain.ECSAPI
	mapsTable string
}

// NewTimingStore returns a TimingStore.
func NewTimingStore(db dydb.DB, ecsClient domain.ECSAPI, mapsTable string) *TimingStore {
	return &TimingStore{
		Queries:   dydb.New(db),
		ecsClient: ecsClient,
		mapsTable: mapsTable,
	}
}
