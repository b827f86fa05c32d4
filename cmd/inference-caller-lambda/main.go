// Package main provides the Lambda entry point for the inference caller.
//
// Triggered by SQS messages announcing extracted frames:
//
//	{"s3_uri": "s3://bucket/key.jpg", "original_video_key": "...", "frame_file": "..."}
//
// For each frame it invokes the SageMaker endpoint, writes an annotated JPEG
// under ANNOTATED_PREFIX and a result record under OUTPUT_PREFIX. Failed
// messages are returned in batchItemFailures so only they are redelivered
// (the event source mapping must enable ReportBatchItemFailures).
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/safesite-pipeline/internal/caller"
	"github.com/fpang/safesite-pipeline/internal/config"
	"github.com/fpang/safesite-pipeline/internal/lambdaboot"
	"github.com/fpang/safesite-pipeline/internal/logging"
)

var (
	coldStart = true
	processor *caller.Processor
)

func init() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.LoadCaller()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid inference caller configuration")
	}

	awsClients := lambdaboot.InitAWS()
	endpointName, err := lambdaboot.ResolveEndpointName(context.Background(), awsClients.SSM, cfg.EndpointName, cfg.EndpointParam)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve SageMaker endpoint name")
	}
	cfg.EndpointName = endpointName

	objects := lambdaboot.InitS3(awsClients.Config)
	endpoint := lambdaboot.InitEndpoint(awsClients.Config, endpointName)
	processor = caller.NewProcessor(objects, endpoint, cfg)

	startup := lambdaboot.StartupLog("inference-caller-lambda", initStart).
		Endpoint("sagemaker", endpoint.Name()).
		S3Bucket("output", cfg.OutputBucket).
		S3Bucket("annotated", cfg.AnnotatedBucket).
		Config("outputPrefix", cfg.OutputPrefix).
		Config("annotatedPrefix", cfg.AnnotatedPrefix)
	if cfg.EndpointParam != "" {
		startup.SSMParam("endpointName", cfg.EndpointParam)
	}
	startup.Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, event events.SQSEvent) (caller.Response, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "inference-caller-lambda").Msg("Cold start, first invocation")
	}
	return processor.HandleBatch(ctx, event)
}
