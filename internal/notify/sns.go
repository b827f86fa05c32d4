package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/rs/zerolog/log"
)

// SNSAPI is the subset of the SNS client used by SNSPublisher.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes alerts to one topic with per-protocol bodies.
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
}

var _ Publisher = (*SNSPublisher)(nil)

// NewSNSPublisher binds a client to a topic.
func NewSNSPublisher(client SNSAPI, topicARN string) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN}
}

// protocolBodies is the MessageStructure=json payload.
type protocolBodies struct {
	Default string `json:"default"`
	Email   string `json:"email"`
	SMS     string `json:"sms"`
}

// Publish sends the alert and returns the SNS message id.
func (p *SNSPublisher) Publish(ctx context.Context, a Alert) (string, error) {
	body := Body(a)
	message, err := json.Marshal(protocolBodies{Default: body, Email: body, SMS: SMS(a)})
	if err != nil {
		return "", fmt.Errorf("marshal alert: %w", err)
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn:         aws.String(p.topicARN),
		Message:          aws.String(string(message)),
		MessageStructure: aws.String("json"),
		Subject:          aws.String(Subject(len(a.Outliers))),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"eventType": stringAttr(EventTypeOutlier),
			"severity":  stringAttr(Severity(len(a.Outliers))),
			"videoName": stringAttr(a.VideoName),
		},
	})
	if err != nil {
		return "", fmt.Errorf("SNS Publish %s: %w", a.EventID, err)
	}

	id := aws.ToString(out.MessageId)
	log.Info().
		Str("eventId", a.EventID).
		Str("messageId", id).
		Str("severity", Severity(len(a.Outliers))).
		Msg("Outlier alert published")
	return id, nil
}

func stringAttr(v string) snstypes.MessageAttributeValue {
	return snstypes.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}
