// Package main provides the Lambda entry point for the outlier detector.
//
// Triggered by S3 ObjectCreated events on the results prefix. Each result
// record whose detections include an OUTLIER_CLASSES label becomes an event
// in DYNAMODB_TABLE, an SNS alert when SNS_TOPIC_ARN is set, and an
// EventBridge event when OUTLIER_EVENT_BUS_NAME is set.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/safesite-pipeline/internal/config"
	"github.com/fpang/safesite-pipeline/internal/detector"
	"github.com/fpang/safesite-pipeline/internal/lambdaboot"
	"github.com/fpang/safesite-pipeline/internal/logging"
)

var (
	coldStart = true
	processor *detector.Processor
)

func init() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.LoadDetector()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid outlier detector configuration")
	}

	awsClients := lambdaboot.InitAWS()
	objects := lambdaboot.InitS3(awsClients.Config)
	outliers := lambdaboot.InitDynamo(awsClients.Config, cfg.TableName)
	publisher := lambdaboot.InitPublisherOptional(awsClients.Config, cfg.TopicARN)
	emitter := lambdaboot.InitEmitterOptional(awsClients.Config, cfg.EventBusName)

	processor = detector.NewProcessor(objects, objects, outliers, cfg).
		WithPublisher(publisher).
		WithEmitter(emitter)

	lambdaboot.StartupLog("outlier-detector-lambda", initStart).
		DynamoTable("outlierEvents", outliers.TableName()).
		Topic("alerts", cfg.TopicARN).
		Config("eventBus", cfg.EventBusName).
		Config("resultsPrefix", cfg.ResultsPrefix).
		Config("framesPrefix", cfg.FramesPrefix).
		Config("outlierClasses", cfg.OutlierClasses.String()).
		Feature("notifications", publisher != nil).
		Feature("eventFanOut", emitter != nil).
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, event events.S3Event) (detector.Response, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "outlier-detector-lambda").Msg("Cold start, first invocation")
	}
	return processor.HandleBatch(ctx, event)
}
