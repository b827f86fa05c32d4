// Package caller runs the inference step for queued frames: download the
// frame, call the detection endpoint, draw the detections, and write the
// annotated image plus a result record for the outlier detector.
//
// Every queue message is processed independently. A failure is recorded
// against that message id only, so the queue redelivers just the failed
// frames.
package caller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/safesite-pipeline/internal/annotate"
	"github.com/fpang/safesite-pipeline/internal/config"
	"github.com/fpang/safesite-pipeline/internal/inference"
	"github.com/fpang/safesite-pipeline/internal/metrics"
	"github.com/fpang/safesite-pipeline/internal/results"
	"github.com/fpang/safesite-pipeline/internal/s3util"
)

const (
	component       = "inference-caller"
	contentTypeJPEG = "image/jpeg"
	contentTypeJSON = "application/json"
)

// Processor holds the collaborators shared by every message.
type Processor struct {
	objects    s3util.ObjectStore
	detector   inference.Detector
	cfg        config.Caller
	metricsOut io.Writer
}

// NewProcessor wires a processor. Clients are owned by the caller and
// reused across invocations.
func NewProcessor(objects s3util.ObjectStore, detector inference.Detector, cfg config.Caller) *Processor {
	return &Processor{objects: objects, detector: detector, cfg: cfg}
}

// WithMetricsWriter redirects EMF output, used by tests.
func (p *Processor) WithMetricsWriter(w io.Writer) *Processor {
	p.metricsOut = w
	return p
}

// ItemResult is the outcome of one frame.
type ItemResult struct {
	MessageID    string
	AnnotatedKey string
	ResultKey    string
	Record       results.Record
	Detections   int
	Annotated    bool
	Latency      time.Duration
	Err          error
}

// Response is the SQS partial-batch response, extended with a summary body.
type Response struct {
	BatchItemFailures []events.SQSBatchItemFailure `json:"batchItemFailures"`
	StatusCode        int                          `json:"statusCode"`
	Body              string                       `json:"body"`
}

type responseBody struct {
	Message   string `json:"message"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
}

// HandleBatch processes every message and reports the failed ids. It never
// returns an error; per-message failures travel in BatchItemFailures.
func (p *Processor) HandleBatch(ctx context.Context, event events.SQSEvent) (Response, error) {
	rec := metrics.New(component)
	if p.metricsOut != nil {
		rec.WithWriter(p.metricsOut)
	}
	rec.Property("batchSize", len(event.Records))
	defer rec.Flush()

	log.Info().Int("messages", len(event.Records)).Msg("Processing frame batch")

	resp := Response{BatchItemFailures: []events.SQSBatchItemFailure{}, StatusCode: http.StatusOK}
	processed := 0
	var inferenceTime time.Duration
	for _, msg := range event.Records {
		res := p.HandleMessage(ctx, msg)
		inferenceTime += res.Latency
		if res.Err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: msg.MessageId})
			continue
		}
		processed++
		rec.Add("Detections", res.Detections)
	}

	failed := len(resp.BatchItemFailures)
	rec.Add("FramesProcessed", processed).
		Add("FramesFailed", failed).
		Duration("InferenceLatencyMs", inferenceTime)

	body := responseBody{Message: "All frames processed successfully", Processed: processed, Failed: failed}
	if failed > 0 {
		body.Message = fmt.Sprintf("%d of %d frames failed", failed, len(event.Records))
	}
	data, _ := json.Marshal(body)
	resp.Body = string(data)

	log.Info().
		Int("processed", processed).
		Int("failed", failed).
		Msg("Frame batch complete")
	return resp, nil
}

// HandleMessage parses one queue message and processes its frame.
func (p *Processor) HandleMessage(ctx context.Context, msg events.SQSMessage) ItemResult {
	logger := log.With().Str("messageId", msg.MessageId).Logger()

	frame, err := results.ParseFrameMessage(msg.Body)
	if err != nil {
		logger.Error().Err(err).Msg("Rejecting frame message")
		return ItemResult{MessageID: msg.MessageId, Err: err}
	}

	res := p.ProcessFrame(logger.WithContext(ctx), frame)
	res.MessageID = msg.MessageId
	if res.Err != nil {
		logger.Error().Err(res.Err).Str("s3Uri", frame.S3URI).Msg("Frame failed")
	}
	return res
}

// ProcessFrame runs the full pipeline for one frame. The logger attached to
// ctx, if any, is used for diagnostics.
func (p *Processor) ProcessFrame(ctx context.Context, frame results.FrameMessage) ItemResult {
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}
	var res ItemResult

	bucket, key, err := s3util.ParseS3URI(frame.S3URI)
	if err != nil {
		res.Err = err
		return res
	}

	image, err := p.objects.GetObject(ctx, bucket, key)
	if err != nil {
		res.Err = fmt.Errorf("get frame: %w", err)
		return res
	}

	start := time.Now()
	detections, err := p.detector.Detect(ctx, image)
	res.Latency = time.Since(start)
	if err != nil {
		res.Err = fmt.Errorf("inference: %w", err)
		return res
	}
	res.Detections = len(detections)

	drawn := annotate.Draw(image, detections)
	contentType := contentTypeJPEG
	if drawn.Err != nil {
		logger.Warn().Err(drawn.Err).Msg("Annotation failed, storing original frame")
		contentType = http.DetectContentType(image)
	}
	res.Annotated = drawn.Err == nil

	videoName := results.VideoBaseName(frame.OriginalVideoKey)
	res.AnnotatedKey = results.AnnotatedKey(p.cfg.AnnotatedPrefix, videoName, frame.FrameFile)
	if err := p.objects.PutObject(ctx, p.cfg.AnnotatedBucket, res.AnnotatedKey, drawn.Image, contentType); err != nil {
		res.Err = fmt.Errorf("put annotated frame: %w", err)
		return res
	}
	annotatedURI := s3util.FormatS3URI(p.cfg.AnnotatedBucket, res.AnnotatedKey)

	frameNumber := results.FrameNumberFromFile(frame.FrameFile)
	res.Record = results.NewRecord(videoName, frameNumber, detections, annotatedURI)
	body, err := json.Marshal(res.Record)
	if err != nil {
		res.Err = fmt.Errorf("marshal result record: %w", err)
		return res
	}

	res.ResultKey = results.ResultKey(p.cfg.OutputPrefix, videoName, frame.FrameFile)
	if err := p.objects.PutObject(ctx, p.cfg.OutputBucket, res.ResultKey, body, contentTypeJSON); err != nil {
		res.Err = fmt.Errorf("put result record: %w", err)
		return res
	}

	logger.Info().
		Str("video", videoName).
		Int("frameNumber", frameNumber).
		Int("detections", res.Detections).
		Int("drawn", drawn.Drawn).
		Int("skipped", drawn.Skipped).
		Str("resultKey", res.ResultKey).
		Dur("inference", res.Latency).
		Msg("Frame processed")
	return res
}
