// Package dydb implements the shared DynamoDB queries over the maps and
// jobs tables.
package dydb

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/smithy-go"
)

// DB is the DynamoDB surface the queries need. *dynamodb.Client satisfies
// it; tests provide fakes.
type DB interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Queries wraps a DB with the map/job operations. Handler packages embed it
// in their stores.
type Queries struct {
	db DB
}

// New returns a new instance of a Queries object
func New(db DB) *Queries {
	return &Queries{db: db}
}

// Secondary index names, created by Terraform alongside the tables.
const (
	OwnerMapIndex = "OwnerMapIndex" // maps table: ownerEmail -> createdAt
	JobMapIndex   = "JobMapIndex"   // maps table: jobId -> mapId
	OwnerJobIndex = "OwnerJobIndex" // jobs table: submittedBy -> createdAt
)

// conditionalCheckFailed reports whether err is a failed ConditionExpression
// rather than a transport or service fault.
func conditionalCheckFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ConditionalCheckFailedException"
	}
	return false
}
