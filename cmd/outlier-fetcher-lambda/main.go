// Package main provides the Lambda entry point for the outlier query API.
//
// API Gateway (REST, proxy integration) forwards GET and OPTIONS requests;
// the fetcher handler scans DYNAMODB_TABLE and returns events with freshly
// presigned image links valid for PRESIGN_EXPIRY_SECONDS.
package main

import (
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/safesite-pipeline/internal/config"
	"github.com/fpang/safesite-pipeline/internal/fetcher"
	"github.com/fpang/safesite-pipeline/internal/lambdaboot"
	"github.com/fpang/safesite-pipeline/internal/logging"
)

var outlierHandler *fetcher.Handler

func init() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.LoadFetcher()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid outlier fetcher configuration")
	}

	awsClients := lambdaboot.InitAWS()
	objects := lambdaboot.InitS3(awsClients.Config)
	outliers := lambdaboot.InitDynamo(awsClients.Config, cfg.TableName)
	outlierHandler = fetcher.NewHandler(outliers, objects, cfg.PresignExpiry)

	lambdaboot.StartupLog("outlier-fetcher-lambda", initStart).
		DynamoTable("outlierEvents", outliers.TableName()).
		Config("presignExpiry", cfg.PresignExpiry.String()).
		Log()
}

func main() {
	// Every path is served by the same handler; API Gateway owns routing.
	mux := http.NewServeMux()
	mux.Handle("/", outlierHandler)

	adapter := httpadapter.New(mux)
	lambda.Start(adapter.ProxyWithContext)
}
