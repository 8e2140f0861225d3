package test

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// MockDB is a scriptable dydb.DB. Tests assign only the functions their
// scenario exercises; unassigned operations return empty outputs.
type MockDB struct {
	GetItemFn    func(ctx context.Context, params *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	PutItemFn    func(ctx context.Context, params *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	UpdateItemFn func(ctx context.Context, params *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	DeleteItemFn func(ctx context.Context, params *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	QueryFn      func(ctx context.Context, params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	ScanFn       func(ctx context.Context, params *dynamodb.ScanInput) (*dynamodb.ScanOutput, error)
}

func (db *MockDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if db.GetItemFn != nil {
		return db.GetItemFn(ctx, params)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (db *MockDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if db.PutItemFn != nil {
		return db.PutItemFn(ctx, params)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (db *MockDB) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if db.UpdateItemFn != nil {
		return db.UpdateItemFn(ctx, params)
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (db *MockDB) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if db.DeleteItemFn != nil {
		return db.DeleteItemFn(ctx, params)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (db *MockDB) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if db.QueryFn != nil {
		return db.QueryFn(ctx, params)
	}
	return &dynamodb.QueryOutput{}, nil
}

func (db *MockDB) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if db.ScanFn != nil {
		return db.ScanFn(ctx, params)
	}
	return &dynamodb.ScanOutput{}, nil
}
