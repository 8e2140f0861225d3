// Package handler records processing task timings. EventBridge delivers ECS
// task state changes; transitions to RUNNING and STOPPED are stamped onto
// the map record the task was launched for.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	log "github.com/sirupsen/logrus"

	"github.com/mra-mines/map-ingestion-service/pkg/models/mapschema"
	"github.com/mra-mines/map-ingestion-service/pkg/queries/dydb"
)

var store *TimingStore

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

	store = NewTimingStore(
		dynamodb.NewFromConfig(cfg),
		ecs.NewFromConfig(cfg),
		os.Getenv("MAPS_TABLE"),
	)
}

// taskStateDetail is the part of the EventBridge "ECS Task State Change"
// detail the handler uses.
type taskStateDetail struct {
	TaskArn       string `json:"taskArn"`
	ClusterArn    string `json:"clusterArn"`
	LastStatus    string `json:"lastStatus"`
	StopCode      string `json:"stopCode"`
	StoppedReason string `json:"stoppedReason"`
}

// Handler records taskStartedAt and taskStoppedAt for the map a processor
// task was launched for.
func Handler(ctx context.Context, event events.CloudWatchEvent) error {
	detail := taskStateDetail{}
	if err := json.Unmarshal(event.Detail, &detail); err != nil {
		return fmt.Errorf("failed to unmarshal event detail: %w", err)
	}
	if detail.TaskArn == "" || detail.ClusterArn == "" {
		return fmt.Errorf("event missing taskArn or clusterArn")
	}

	var field string
	switch detail.LastStatus {
	case "RUNNING":
		field = dydb.TimingTaskStarted
	case "STOPPED":
		field = dydb.TimingTaskStopped
	default:
		return nil
	}

	key, err := store.mapForTask(ctx, detail)
	if err != nil {
		return err
	}
	if key == nil {
		log.WithFields(log.Fields{"task_arn": detail.TaskArn}).
			Warn("Task carries no map identity, skipping")
		return nil
	}

	if detail.LastStatus == "STOPPED" && detail.StopCode != "" && detail.StopCode != "EssentialContainerExited" {
		log.WithFields(log.Fields{
			"task_arn":    detail.TaskArn,
			"stop_code":   detail.StopCode,
			"stop_reason": detail.StoppedReason,
		}).Warn("Processor task stopped abnormally")
	}

	timestamp := mapschema.Timestamp(time.Now())
	if err := store.SetMapTiming(ctx, store.mapsTable, *key, field, timestamp, detail.TaskArn); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"map_id":   key.MapId,
		"map_name": key.MapName,
		"field":    field,
	}).Info("Recorded task timing")
	return nil
}

// mapForTask recovers the map identity from the container override
// environment the dispatcher launched the task with.
func (s *TimingStore) mapForTask(ctx context.Context, detail taskStateDetail) (*mapschema.MapPrimaryKey, error) {
	cluster := detail.ClusterArn
	if i := strings.LastIndex(cluster, "/"); i >= 0 {
		cluster = cluster[i+1:]
	}

	result, err := s.ecsClient.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(cluster),
		Tasks:   []string{detail.TaskArn},
	})
	if err != nil {
		return nil, fmt.Errorf("DescribeTasks: %w", err)
	}
	if len(result.Tasks) == 0 {
		return nil, fmt.Errorf("no task found for %s", detail.TaskArn)
	}

	key := mapschema.MapPrimaryKey{}
	if overrides := result.Tasks[0].Overrides; overrides != nil {
		for _, container := range overrides.ContainerOverrides {
			for _, env := range container.Environment {
				switch aws.ToString(env.Name) {
				case "MAP_ID":
					key.MapId = aws.ToString(env.Value)
				case "MAP_NAME":
					key.MapName = aws.ToString(env.Value)
				}
			}
		}
	}

	if key.MapId == "" || key.MapName == "" {
		return nil, nil
	}
	return &key, nil
}
