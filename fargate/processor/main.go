// The processor task handles one uploaded archive per run. It re-validates
// the archive server side, produces the output object, and settles the map
// and job bookkeeping. The transformation itself is a placeholder: the task
// holds for a configurable duration and copies the archive to the output
// bucket.
package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"

	"github.com/mra-mines/map-ingestion-service/pkg/models/mapschema"
	"github.com/mra-mines/map-ingestion-service/pkg/queries/dydb"
)

var session awsSession

type awsSession struct {
	*dydb.Queries
	S3Client     *s3.Client
	MapsTable    string
	JobsTable    string
	InputBucket  string
	OutputBucket string
}

// taskInput is the per-map identity the dispatcher passes through the
// container environment.
type taskInput struct {
	JobId       string
	MapId       string
	MapName     string
	InputKey    string
	HoldSeconds int
}

// main entry method for the task.
func main() {
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

	session = awsSession{
		Queries:      dydb.New(dynamodb.NewFromConfig(cfg)),
		S3Client:     s3.NewFromConfig(cfg),
		MapsTable:    os.Getenv("MAPS_TABLE_NAME"),
		JobsTable:    os.Getenv("JOBS_TABLE_NAME"),
		InputBucket:  os.Getenv("INPUT_BUCKET"),
		OutputBucket: os.Getenv("OUTPUT_BUCKET"),
	}

	input := taskInput{
		JobId:    os.Getenv("JOB_ID"),
		MapId:    os.Getenv("MAP_ID"),
		MapName:  os.Getenv("MAP_NAME"),
		InputKey: os.Getenv("INPUT_KEY"),
	}
	if v, err := strconv.Atoi(os.Getenv("PROCESS_HOLD_SECONDS")); err == nil {
		input.HoldSeconds = v
	}

	if missing := missingSettings(input); len(missing) > 0 {
		log.Error("Missing required environment variables: ", missing)
		if input.JobId != "" && session.JobsTable != "" {
			_ = session.UpdateJobStatus(context.Background(), session.JobsTable, input.JobId,
				mapschema.JobFailed, mapschema.Timestamp(time.Now()), nil)
		}
		os.Exit(1)
	}

	log.WithFields(log.Fields{
		"job_id": input.JobId,
		"map_id": input.MapId,
		"input":  session.InputBucket + "/" + input.InputKey,
	}).Info("Map processor started")

	if err := processMap(context.Background(), input); err != nil {
		log.Error("Processing failed: ", err)
		os.Exit(1)
	}

	log.Info("Map processed successfully")
}

func missingSettings(input taskInput) []string {
	var missing []string
	for name, value := range map[string]string{
		"INPUT_BUCKET":    session.InputBucket,
		"OUTPUT_BUCKET":   session.OutputBucket,
		"MAPS_TABLE_NAME": session.MapsTable,
		"JOBS_TABLE_NAME": session.JobsTable,
		"JOB_ID":          input.JobId,
		"MAP_ID":          input.MapId,
		"MAP_NAME":        input.MapName,
		"INPUT_KEY":       input.InputKey,
	} {
		if value == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
