package handler

import (
	"github.com/mra-mines/map-ingestion-service/pkg/queries/dydb"
)

// ReaperStore wraps the queries for the reservation cleanup run.
type ReaperStore struct {
	*dydb.Queries
	mapsTable string
}

// NewReaperStore returns a ReaperStore.
func NewReaperStore(db dydb.DB, mapsTable string) *ReaperStore {
	return &ReaperStore{
		Queries:   dydb.New(db),
		mapsTable: mapsTable,
	}
}
