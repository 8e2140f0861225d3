package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	log "github.com/sirupsen/logrus"

	"github.com/mra-mines/map-ingestion-service/pkg/models/mapschema"
	"github.com/mra-mines/map-ingestion-service/pkg/zipcheck"
)

// processMap runs one archive through the pipeline: mark PROCESSING,
// validate, hold for the placeholder duration, copy to the output bucket,
// and settle the map and job records.
func processMap(ctx context.Context, input taskInput) error {
	key := mapschema.MapPrimaryKey{MapId: input.MapId, MapName: input.MapName}

	timestamp := mapschema.Timestamp(time.Now())
	if err := session.UpdateJobStatus(ctx, session.JobsTable, input.JobId,
		mapschema.JobProcessing, timestamp, nil); err != nil {
		return err
	}
	if err := session.UpdateMapStatus(ctx, session.MapsTable, key, mapschema.Processing, timestamp); err != nil {
		return err
	}

	outputKey, err := produceOutput(ctx, input)
	if err != nil {
		recordFailure(ctx, input, key, err)
		return err
	}

	if err := session.SetMapOutput(ctx, session.MapsTable, key, mapschema.S3Output{
		Bucket: session.OutputBucket,
		Key:    outputKey,
		Url:    fmt.Sprintf("https://s3.amazonaws.com/%s/%s", session.OutputBucket, outputKey),
	}, mapschema.Timestamp(time.Now())); err != nil {
		recordFailure(ctx, input, key, err)
		return err
	}

	finalStatus, done, err := session.ResolveJobIfComplete(ctx, session.JobsTable, input.JobId,
		false, mapschema.Timestamp(time.Now()))
	if err != nil {
		return err
	}
	if done {
		log.WithFields(log.Fields{"job_id": input.JobId}).
			Info("Batch finished with status " + finalStatus.String())
	}

	return nil
}

// produceOutput validates the archive and copies it to the output bucket.
// The upload form already rejected malformed archives; this pass catches
// objects uploaded around the form and archives corrupted in transit.
func produceOutput(ctx context.Context, input taskInput) (string, error) {
	report, err := validateArchive(ctx, input)
	if err != nil {
		return "", err
	}
	if report.Warning != "" {
		log.WithFields(log.Fields{"map_id": input.MapId}).Warn(report.Warning)
	}
	log.WithFields(log.Fields{
		"map_id":  input.MapId,
		"seam_id": report.SeamID,
		"sheet":   report.DerivedSheet,
	}).Info("Archive validated")

	if input.HoldSeconds > 0 {
		log.Info(fmt.Sprintf("Holding for %d seconds", input.HoldSeconds))
		select {
		case <-time.After(time.Duration(input.HoldSeconds) * time.Second):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	outputKey := "output/" + input.MapName
	_, err = session.S3Client.CopyObject(ctx, &s3.CopyObjectInput{
		CopySource:        aws.String(session.InputBucket + "/" + input.InputKey),
		Bucket:            aws.String(session.OutputBucket),
		Key:               aws.String(outputKey),
		MetadataDirective: s3Types.MetadataDirectiveCopy,
		TaggingDirective:  s3Types.TaggingDirectiveCopy,
	})
	if err != nil {
		return "", fmt.Errorf("failed to copy %s to %s/%s: %w", input.InputKey, session.OutputBucket, outputKey, err)
	}

	log.Info(fmt.Sprintf("Copied archive to %s/%s", session.OutputBucket, outputKey))
	return outputKey, nil
}

// validateArchive downloads the archive and runs the georeferencing checks
// against it.
func validateArchive(ctx context.Context, input taskInput) (*zipcheck.Report, error) {
	result, err := session.S3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(session.InputBucket),
		Key:    aws.String(input.InputKey),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", session.InputBucket, input.InputKey, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive body: %w", err)
	}

	return zipcheck.ValidateArchive(bytes.NewReader(data), int64(len(data)), input.MapName)
}

// recordFailure settles the records after a processing error. Failures of
// the bookkeeping itself are logged; the original error is what the caller
// reports.
func recordFailure(ctx context.Context, input taskInput, key mapschema.MapPrimaryKey, cause error) {
	timestamp := mapschema.Timestamp(time.Now())

	message := cause.Error()
	var validationErr *zipcheck.ValidationError
	if errors.As(cause, &validationErr) {
		message = validationErr.Reason
	}

	if err := session.SetMapFailure(ctx, session.MapsTable, key, message, timestamp); err != nil {
		log.Error("Unable to mark map failed: ", err)
	}

	finalStatus, done, err := session.ResolveJobIfComplete(ctx, session.JobsTable, input.JobId, true, timestamp)
	if err != nil {
		log.Error("Unable to settle job counters: ", err)
		return
	}
	if done {
		log.WithFields(log.Fields{"job_id": input.JobId}).
			Info("Batch finished with status " + finalStatus.String())
	}
}
