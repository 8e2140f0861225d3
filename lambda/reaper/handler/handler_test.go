package handler

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"

	"github.com/mra-mines/map-ingestion-service/pkg/models/mapschema"
	"github.com/mra-mines/map-ingestion-service/pkg/test"
)

func expiredReservation(mapId string) map[string]types.AttributeValue {
	item, _ := attributevalue.MarshalMap(mapschema.MapTable{
		MapId:      mapId,
		MapName:    "16516_433857.zip",
		Status:     mapschema.Reserved.String(),
		OwnerEmail: "surveyor@example.com",
		CreatedAt:  "2026-03-14T09:26:53.589Z",
	})
	return item
}

func TestReaper(t *testing.T) {
	for scenario, fn := range map[string]func(tt *testing.T){
		"deletes expired reservations": func(tt *testing.T) {
			var deletedIds []string
			db := &test.MockDB{
				ScanFn: func(ctx context.Context, params *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
					assert.Contains(tt, *params.FilterExpression, ":reserved")
					return &dynamodb.ScanOutput{
						Items: []map[string]types.AttributeValue{
							expiredReservation("map_000000000001"),
							expiredReservation("map_000000000002"),
						},
					}, nil
				},
				DeleteItemFn: func(ctx context.Context, params *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
					id := params.Key["mapId"].(*types.AttributeValueMemberS).Value
					deletedIds = append(deletedIds, id)
					return &dynamodb.DeleteItemOutput{Attributes: expiredReservation(id)}, nil
				},
			}
			store = NewReaperStore(db, "maps-table")

			assert.NoError(tt, Handler(context.Background(), events.CloudWatchEvent{}))
			assert.Equal(tt, []string{"map_000000000001", "map_000000000002"}, deletedIds)
		},
		"delete failures do not stop the sweep": func(tt *testing.T) {
			var attempts int
			db := &test.MockDB{
				ScanFn: func(ctx context.Context, params *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
					return &dynamodb.ScanOutput{
						Items: []map[string]types.AttributeValue{
							expiredReservation("map_000000000001"),
							expiredReservation("map_000000000002"),
						},
					}, nil
				},
				DeleteItemFn: func(ctx context.Context, params *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
					attempts++
					return nil, fmt.Errorf("throttled")
				},
			}
			store = NewReaperStore(db, "maps-table")

			assert.NoError(tt, Handler(context.Background(), events.CloudWatchEvent{}))
			assert.Equal(tt, 2, attempts)
		},
		"empty sweep is a no-op": func(tt *testing.T) {
			store = NewReaperStore(&test.MockDB{}, "maps-table")
			assert.NoError(tt, Handler(context.Background(), events.CloudWatchEvent{}))
		},
	} {
		t.Run(scenario, fn)
	}
}
