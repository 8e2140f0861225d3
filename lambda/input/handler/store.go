package handler

import (
	"github.com/mra-mines/map-ingestion-service/pkg/domain"
	"github.com/mra-mines/map-ingestion-service/pkg/queries/dydb"
)

// TableNames groups the DynamoDB tables the dispatcher writes to.
type TableNames struct {
	Maps string
	Jobs string
}

// EcsConfig is the Fargate launch target, set by Terraform through the
// environment.
type EcsConfig struct {
	Cluster        string
	TaskDefinition string
	Subnets        []string
	SecurityGroup  string
	ContainerName  string
}

// DispatchStore wraps the clients the input handler needs to turn an
// uploaded archive into a running processor task.
type DispatchStore struct {
	*dydb.Queries
	s3Client     domain.S3API
	ecsClient    domain.ECSAPI
	lambdaClient domain.LambdaAPI
	tables       TableNames
	ecsConfig    EcsConfig
	fallbackFn   string
}

// NewDispatchStore returns a DispatchStore.
func NewDispatchStore(db dydb.DB, s3Client domain.S3API, ecsClient domain.ECSAPI,
	lambdaClient domain.LambdaAPI, tables TableNames, ecsConfig EcsConfig, fallbackFn string) *DispatchStore {
	return &DispatchStore{
		Queries:      dydb.New(db),
		s3Client:     s3Client,
		ecsClient:    ecsClient,
		lambdaClient: lambdaClient,
		tables:       tables,
		ecsConfig:    ecsConfig,
		fallbackFn:   fallbackFn,
	}
}
