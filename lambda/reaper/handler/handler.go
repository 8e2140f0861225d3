// Package handler implements the scheduled reservation reaper. A RESERVED
// record whose upload url expired without an upload blocks its content hash
// forever; the reaper deletes those records so the content can be submitted
// again.
package handler

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	log "github.com/sirupsen/logrus"

	"github.com/mra-mines/map-ingestion-service/pkg/models/mapschema"
)

var store *ReaperStore

func init() {
	log.SetFormatter(&log.JSONFormatter{})
	ll, err := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.SetLevel(log.InfoLevel)
	} else {
		log.SetLevel(ll)
	}

	cfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("LoadDefaultConfig: %v\n", err)
	}

	store = NewReaperStore(
		dynamodb.NewFromConfig(cfg),
		os.Getenv("MAPS_TABLE"),
	)
}

// Handler runs on an EventBridge schedule and deletes expired reservations.
func Handler(ctx context.Context, event events.CloudWatchEvent) error {
	cutoff := mapschema.Timestamp(time.Now().Add(-mapschema.ReservationTTL))

	expired, err := store.GetExpiredReservations(ctx, store.mapsTable, cutoff)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		log.Debug("No expired reservations")
		return nil
	}

	reclaimed := 0
	for _, record := range expired {
		key := mapschema.MapPrimaryKey{MapId: record.MapId, MapName: record.MapName}
		if _, err := store.DeleteMap(ctx, store.mapsTable, key); err != nil {
			log.WithFields(log.Fields{"map_id": record.MapId}).
				Warn("Unable to delete expired reservation: ", err)
			continue
		}
		reclaimed++
	}

	log.WithFields(log.Fields{"expired": len(expired), "reclaimed": reclaimed}).
		Info("Reservation cleanup finished")
	return nil
}
