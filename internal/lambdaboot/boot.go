// Package lambdaboot provides shared Lambda cold-start bootstrap logic.
//
// Every pipeline Lambda needs some subset of: AWS config, S3, DynamoDB,
// SageMaker runtime, SNS, EventBridge, SSM parameter fetch, and startup
// logging. Each Lambda's init() is a short composition of these helpers.
package lambdaboot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/safesite-pipeline/internal/inference"
	"github.com/fpang/safesite-pipeline/internal/logging"
	"github.com/fpang/safesite-pipeline/internal/notify"
	"github.com/fpang/safesite-pipeline/internal/s3util"
	"github.com/fpang/safesite-pipeline/internal/store"
)

// AWSClients holds the core AWS config and the SSM client.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates the object store and presigner.
func InitS3(cfg aws.Config) *s3util.Client {
	return s3util.NewClient(s3.NewFromConfig(cfg))
}

// InitDynamo creates the outlier event store. Fatals if tableName is empty.
func InitDynamo(cfg aws.Config, tableName string) *store.DynamoStore {
	if tableName == "" {
		log.Fatal().Msg("DynamoDB table name is required")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)
}

// InitEndpoint binds the SageMaker runtime client to an endpoint.
func InitEndpoint(cfg aws.Config, endpointName string) *inference.Endpoint {
	if endpointName == "" {
		log.Fatal().Msg("SageMaker endpoint name is required")
	}
	return inference.NewEndpoint(sagemakerruntime.NewFromConfig(cfg), endpointName)
}

// InitPublisherOptional creates an SNS publisher if a topic is configured.
// Returns nil (with a warning) if not.
func InitPublisherOptional(cfg aws.Config, topicARN string) notify.Publisher {
	if topicARN == "" {
		log.Warn().Msg("SNS_TOPIC_ARN not set, notifications disabled")
		return nil
	}
	return notify.NewSNSPublisher(sns.NewFromConfig(cfg), topicARN)
}

// InitEmitterOptional creates an EventBridge emitter if a bus is configured.
func InitEmitterOptional(cfg aws.Config, busName string) notify.Emitter {
	if busName == "" {
		log.Debug().Msg("OUTLIER_EVENT_BUS_NAME not set, event fan-out disabled")
		return nil
	}
	return notify.NewEventBridgeEmitter(eventbridge.NewFromConfig(cfg), busName)
}

// ParameterGetter is the subset of the SSM client used for lookups.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ResolveEndpointName returns name when set, otherwise the value of the
// SSM parameter at paramName.
func ResolveEndpointName(ctx context.Context, client ParameterGetter, name, paramName string) (string, error) {
	if name != "" {
		return name, nil
	}
	if paramName == "" {
		return "", fmt.Errorf("no endpoint name and no SSM parameter configured")
	}
	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read SSM parameter %s: %w", paramName, err)
	}
	if result.Parameter == nil || strings.TrimSpace(aws.ToString(result.Parameter.Value)) == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", paramName)
	}
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Endpoint name loaded from SSM")
	return strings.TrimSpace(aws.ToString(result.Parameter.Value)), nil
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
