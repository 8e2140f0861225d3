package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecsTypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	lambdaService "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdaTypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	log "github.com/sirupsen/logrus"
)

// fallbackEvent is the payload for the async Lambda processor, used when the
// Fargate launch is unavailable.
type fallbackEvent struct {
	JobId  string `json:"jobId"`
	MapId  string `json:"mapId"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// launchProcessor starts a Fargate task for the archive, handing it the job
// and map identity through the container environment. When the launch fails
// it falls back to the async Lambda processor.
func (s *DispatchStore) launchProcessor(ctx context.Context, entry *uploadEntry) error {
	err := s.runEcsTask(ctx, entry)
	if err == nil {
		return nil
	}
	log.WithFields(log.Fields{"job_id": entry.JobId, "map_id": entry.MapId}).
		Warn("Fargate launch failed, falling back to Lambda processor: ", err)

	return s.invokeFallback(ctx, entry)
}

func (s *DispatchStore) runEcsTask(ctx context.Context, entry *uploadEntry) error {
	if s.ecsConfig.Cluster == "" || s.ecsConfig.TaskDefinition == "" {
		return fmt.Errorf("ECS configuration incomplete")
	}

	runTaskIn := &ecs.RunTaskInput{
		TaskDefinition: aws.String(s.ecsConfig.TaskDefinition),
		Cluster:        aws.String(s.ecsConfig.Cluster),
		LaunchType:     ecsTypes.LaunchTypeFargate,
		NetworkConfiguration: &ecsTypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecsTypes.AwsVpcConfiguration{
				Subnets:        s.ecsConfig.Subnets,
				SecurityGroups: []string{s.ecsConfig.SecurityGroup},
				AssignPublicIp: ecsTypes.AssignPublicIpEnabled,
			},
		},
		Overrides: &ecsTypes.TaskOverride{
			ContainerOverrides: []ecsTypes.ContainerOverride{
				{
					Name: aws.String(s.ecsConfig.ContainerName),
					Environment: []ecsTypes.KeyValuePair{
						{Name: aws.String("JOB_ID"), Value: aws.String(entry.JobId)},
						{Name: aws.String("MAP_ID"), Value: aws.String(entry.MapId)},
						{Name: aws.String("INPUT_KEY"), Value: aws.String(entry.Key)},
						{Name: aws.String("MAP_NAME"), Value: aws.String(entry.MapName)},
					},
				},
			},
		},
	}

	result, err := s.ecsClient.RunTask(ctx, runTaskIn)
	if err != nil {
		return err
	}
	if len(result.Tasks) == 0 {
		return fmt.Errorf("RunTask returned no tasks")
	}

	log.WithFields(log.Fields{"job_id": entry.JobId, "task_arn": aws.ToString(result.Tasks[0].TaskArn)}).
		Info("Launched processor task")
	return nil
}

func (s *DispatchStore) invokeFallback(ctx context.Context, entry *uploadEntry) error {
	if s.fallbackFn == "" {
		return fmt.Errorf("no fallback processor configured")
	}

	payload, err := json.Marshal(fallbackEvent{
		JobId:  entry.JobId,
		MapId:  entry.MapId,
		Bucket: entry.Bucket,
		Key:    entry.Key,
	})
	if err != nil {
		return err
	}

	_, err = s.lambdaClient.Invoke(ctx, &lambdaService.InvokeInput{
		FunctionName:   aws.String(s.fallbackFn),
		InvocationType: lambdaTypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("failed to invoke fallback processor: %w", err)
	}

	log.WithFields(log.Fields{"job_id": entry.JobId, "map_id": entry.MapId}).
		Info("Invoked Lambda fallback processor")
	return nil
}
