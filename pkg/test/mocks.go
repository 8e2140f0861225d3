// Package test provides mock AWS clients for the handler test suites.
package test

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecsTypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go/middleware"
)

type MockS3 struct {
	Metadata    map[string]string
	HeadErr     error
	CopyErr     error
	CopiedKeys  []string
	DeletedKeys []string
}

func (s *MockS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if s.HeadErr != nil {
		return nil, s.HeadErr
	}
	return &s3.HeadObjectOutput{
		Metadata:      s.Metadata,
		ContentLength: aws.Int64(1024),
	}, nil
}

func (s *MockS3) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if s.CopyErr != nil {
		return nil, s.CopyErr
	}
	s.CopiedKeys = append(s.CopiedKeys, *params.Key)
	return &s3.CopyObjectOutput{ResultMetadata: middleware.Metadata{}}, nil
}

func (s *MockS3) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	var deleted []s3Types.DeletedObject
	for _, o := range params.Delete.Objects {
		s.DeletedKeys = append(s.DeletedKeys, *o.Key)
		deleted = append(deleted, s3Types.DeletedObject{Key: o.Key})
	}
	return &s3.DeleteObjectsOutput{Deleted: deleted}, nil
}

type MockPresign struct {
	PutUrls []string
	GetUrls []string
}

func (p *MockPresign) PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	url := fmt.Sprintf("https://example.com/upload/%s/%s", *params.Bucket, *params.Key)
	p.PutUrls = append(p.PutUrls, url)
	return &v4.PresignedHTTPRequest{URL: url, Method: "PUT"}, nil
}

func (p *MockPresign) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	url := fmt.Sprintf("https://example.com/download/%s/%s", *params.Bucket, *params.Key)
	p.GetUrls = append(p.GetUrls, url)
	return &v4.PresignedHTTPRequest{URL: url, Method: "GET"}, nil
}

type MockECS struct {
	RunTaskErr   error
	LaunchedEnvs []map[string]string
	TaskEnv      map[string]string
	TaskStatus   string
}

func (e *MockECS) RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error) {
	if e.RunTaskErr != nil {
		return nil, e.RunTaskErr
	}

	env := map[string]string{}
	for _, o := range params.Overrides.ContainerOverrides {
		for _, kv := range o.Environment {
			env[*kv.Name] = *kv.Value
		}
	}
	e.LaunchedEnvs = append(e.LaunchedEnvs, env)

	return &ecs.RunTaskOutput{
		Tasks: []ecsTypes.Task{
			{TaskArn: aws.String("arn:aws:ecs:eu-west-2:000000000000:task/test/abc123")},
		},
		ResultMetadata: middleware.Metadata{},
	}, nil
}

func (e *MockECS) DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error) {
	var env []ecsTypes.KeyValuePair
	for name, value := range e.TaskEnv {
		env = append(env, ecsTypes.KeyValuePair{Name: aws.String(name), Value: aws.String(value)})
	}

	status := e.TaskStatus
	if status == "" {
		status = "RUNNING"
	}

	return &ecs.DescribeTasksOutput{
		Tasks: []ecsTypes.Task{
			{
				TaskArn:    aws.String(params.Tasks[0]),
				LastStatus: aws.String(status),
				Overrides: &ecsTypes.TaskOverride{
					ContainerOverrides: []ecsTypes.ContainerOverride{
						{Name: aws.String("processor"), Environment: env},
					},
				},
			},
		},
	}, nil
}

type MockLambda struct {
	InvokeErr error
	Payloads  [][]byte
}

func (l *MockLambda) Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	if l.InvokeErr != nil {
		return nil, l.InvokeErr
	}
	l.Payloads = append(l.Payloads, params.Payload)
	return &lambda.InvokeOutput{StatusCode: 202}, nil
}

type MockSNS struct {
	Published []string
}

func (s *MockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	s.Published = append(s.Published, aws.ToString(params.Message))
	return &sns.PublishOutput{
		MessageId:      aws.String("mock-message-id"),
		ResultMetadata: middleware.Metadata{},
	}, nil
}
