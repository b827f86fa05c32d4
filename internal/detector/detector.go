// Package detector turns result records into outlier events. It is
// triggered by object-created notifications under the results prefix,
// matches each record's detections against the configured outlier classes,
// and for a match writes an event to the table and raises an alert.
package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/safesite-pipeline/internal/config"
	"github.com/fpang/safesite-pipeline/internal/inference"
	"github.com/fpang/safesite-pipeline/internal/metrics"
	"github.com/fpang/safesite-pipeline/internal/notify"
	"github.com/fpang/safesite-pipeline/internal/results"
	"github.com/fpang/safesite-pipeline/internal/s3util"
	"github.com/fpang/safesite-pipeline/internal/store"
)

const (
	component = "outlier-detector"
	// FrameURLExpiry is the lifetime of the link stored with an event.
	FrameURLExpiry = 24 * time.Hour
	isoLayout      = "2006-01-02T15:04:05.000000Z07:00"
)

// ErrNoFrameNumber means neither the record nor its key names a frame.
var ErrNoFrameNumber = errors.New("cannot determine frame number")

// Status classifies the outcome of one notification record.
type Status int

const (
	StatusSkipped Status = iota
	StatusClean
	StatusOutlier
	StatusDuplicate
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "skipped"
	case StatusClean:
		return "clean"
	case StatusOutlier:
		return "outlier"
	case StatusDuplicate:
		return "duplicate"
	default:
		return "error"
	}
}

// RecordResult is the outcome of one storage notification.
type RecordResult struct {
	Bucket   string
	Key      string
	Status   Status
	Event    *store.OutlierEvent
	ImageURL string
	Notified bool
	Err      error
}

// Summary counts a batch. Duplicates count as processed.
type Summary struct {
	Processed     int `json:"processed"`
	OutliersFound int `json:"outliersFound"`
	Errors        int `json:"errors"`
	Skipped       int `json:"-"`
}

// Response is the invocation result returned to the trigger.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Processor holds the collaborators shared by every record.
type Processor struct {
	objects    s3util.ObjectStore
	presigner  s3util.Presigner
	events     store.OutlierStore
	publisher  notify.Publisher
	emitter    notify.Emitter
	cfg        config.Detector
	now        func() time.Time
	newID      func() string
	metricsOut io.Writer
}

// NewProcessor wires a processor without notifications.
func NewProcessor(objects s3util.ObjectStore, presigner s3util.Presigner, outliers store.OutlierStore, cfg config.Detector) *Processor {
	return &Processor{
		objects:   objects,
		presigner: presigner,
		events:    outliers,
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithPublisher enables alerts.
func (p *Processor) WithPublisher(pub notify.Publisher) *Processor {
	p.publisher = pub
	return p
}

// WithEmitter enables event fan-out.
func (p *Processor) WithEmitter(e notify.Emitter) *Processor {
	p.emitter = e
	return p
}

// WithClock overrides the event clock, used by tests.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// WithMetricsWriter redirects EMF output, used by tests.
func (p *Processor) WithMetricsWriter(w io.Writer) *Processor {
	p.metricsOut = w
	return p
}

// HandleBatch processes every record in the notification. Per-record
// failures are counted, never returned.
func (p *Processor) HandleBatch(ctx context.Context, event events.S3Event) (Response, error) {
	rec := metrics.New(component)
	if p.metricsOut != nil {
		rec.WithWriter(p.metricsOut)
	}
	rec.Property("batchSize", len(event.Records))
	defer rec.Flush()

	log.Info().Int("records", len(event.Records)).Msg("Processing result notifications")

	var sum Summary
	notifyFailures := 0
	for _, r := range event.Records {
		key := r.S3.Object.URLDecodedKey
		if key == "" {
			key = decodeKey(r.S3.Object.Key)
		}
		res := p.ProcessObject(ctx, r.S3.Bucket.Name, key)
		sum.add(res)
		if res.Status == StatusOutlier && p.publisher != nil && !res.Notified {
			notifyFailures++
		}
	}

	rec.Add("RecordsProcessed", sum.Processed).
		Add("OutliersDetected", sum.OutliersFound).
		Add("RecordErrors", sum.Errors).
		Add("NotificationsFailed", notifyFailures)

	log.Info().
		Int("processed", sum.Processed).
		Int("outliersFound", sum.OutliersFound).
		Int("errors", sum.Errors).
		Int("skipped", sum.Skipped).
		Msg("Outlier detection complete")

	body, _ := json.Marshal(struct {
		Message string `json:"message"`
		Summary
	}{Message: "Outlier detection complete", Summary: sum})
	return Response{StatusCode: http.StatusOK, Body: string(body)}, nil
}

func (s *Summary) add(res RecordResult) {
	switch res.Status {
	case StatusSkipped:
		s.Skipped++
	case StatusError:
		s.Errors++
	case StatusOutlier:
		s.OutliersFound++
		s.Processed++
	default:
		s.Processed++
	}
}

// decodeKey undoes the form encoding of notification keys.
func decodeKey(key string) string {
	if decoded, err := url.QueryUnescape(key); err == nil {
		return decoded
	}
	return key
}

// ProcessObject evaluates one result object.
func (p *Processor) ProcessObject(ctx context.Context, bucket, key string) RecordResult {
	logger := log.With().Str("bucket", bucket).Str("key", key).Logger()
	res := RecordResult{Bucket: bucket, Key: key}

	if !strings.HasPrefix(key, p.cfg.ResultsPrefix+"/") {
		logger.Debug().Msg("Skipping key outside results prefix")
		res.Status = StatusSkipped
		return res
	}
	if !strings.HasSuffix(key, ".json") {
		logger.Debug().Msg("Skipping non-JSON key")
		res.Status = StatusSkipped
		return res
	}

	if err := p.evaluate(ctx, &logger, &res); err != nil {
		logger.Error().Err(err).Msg("Result record failed")
		res.Status = StatusError
		res.Err = err
	}
	return res
}

func (p *Processor) evaluate(ctx context.Context, logger *zerolog.Logger, res *RecordResult) error {
	data, err := p.objects.GetObject(ctx, res.Bucket, res.Key)
	if err != nil {
		return fmt.Errorf("get result record: %w", err)
	}
	record, err := results.ParseStoredRecord(data)
	if err != nil {
		return err
	}

	parts := strings.Split(res.Key, "/")
	if len(parts) < 3 {
		return fmt.Errorf("key %q: expected <prefix>/<video>/<frame>.json", res.Key)
	}
	frameFile := parts[len(parts)-1]

	videoName := record.VideoID
	if videoName == "" {
		videoName = parts[len(parts)-2]
	}
	frameNumber := record.FrameNumber
	if !record.HasFrameNumber {
		n, ok := results.FrameNumberFromKey(frameFile)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoFrameNumber, frameFile)
		}
		frameNumber = n
	}

	matches := p.Match(record.Detections)
	logger.Info().
		Str("video", videoName).
		Int("frameNumber", frameNumber).
		Int("detections", len(record.Detections)).
		Int("outliers", len(matches)).
		Msg("Result record evaluated")
	if len(matches) == 0 {
		res.Status = StatusClean
		return nil
	}

	detectedAt := p.now().UTC()
	event := &store.OutlierEvent{
		EventID:             videoName + "_" + strings.TrimSuffix(frameFile, ".json"),
		Timestamp:           detectedAt.Unix(),
		VideoName:           videoName,
		FrameNumber:         frameNumber,
		S3Bucket:            res.Bucket,
		S3Key:               res.Key,
		AnnotatedFrameS3URI: record.AnnotatedFrameS3URI,
		Outliers:            matches,
		TotalDetections:     len(record.Detections),
		OutlierCount:        len(matches),
		TimestampISO:        detectedAt.Format(isoLayout),
		EventUUID:           p.newID(),
	}
	p.resolveImage(ctx, logger, event, record)
	res.Event = event
	res.ImageURL = event.PresignedImageURL

	if err := p.events.PutEvent(ctx, event); err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			logger.Warn().Str("eventId", event.EventID).Msg("Outlier event already recorded, not alerting again")
			res.Status = StatusDuplicate
			return nil
		}
		return fmt.Errorf("save outlier event: %w", err)
	}
	res.Status = StatusOutlier
	logger.Warn().
		Str("eventId", event.EventID).
		Str("classes", notify.Summary(matches)).
		Msg("Outlier event recorded")

	res.Notified = p.alert(ctx, logger, event, detectedAt)
	if p.emitter != nil {
		if err := p.emitter.Emit(ctx, event); err != nil {
			logger.Warn().Err(err).Str("eventId", event.EventID).Msg("Outlier event fan-out failed")
		}
	}
	return nil
}

// Match returns the detections whose lowercased label is an outlier class.
// The stored class keeps the label's original case.
func (p *Processor) Match(detections []inference.Detection) []store.Outlier {
	var matches []store.Outlier
	for i, det := range detections {
		if det.Label == "" {
			log.Warn().Int("index", i).Msg("Detection missing 'label', skipping")
			continue
		}
		if !p.cfg.OutlierClasses.Contains(det.Label) {
			continue
		}
		matches = append(matches, store.Outlier{
			Class:      det.Label,
			Confidence: det.Confidence,
			Box:        det.BBox.Value(),
		})
	}
	return matches
}

// resolveImage sets the image link and key: the endpoint's processed frame
// URL when the record has one, otherwise a 24h link to the original frame.
func (p *Processor) resolveImage(ctx context.Context, logger *zerolog.Logger, event *store.OutlierEvent, record results.StoredRecord) {
	if processed, ok := results.ProcessedURL(record.ProcessedFrameURL); ok {
		event.PresignedImageURL = processed
		if u, err := url.Parse(processed); err == nil {
			if key, err := url.QueryUnescape(strings.TrimLeft(u.EscapedPath(), "/")); err == nil {
				event.S3ImageKey = key
			}
		}
		return
	}

	event.S3ImageKey = p.FrameKey(event.S3Key)
	event.PresignedImageURL = s3util.TryPresign(ctx, p.presigner, event.S3Bucket, event.S3ImageKey, FrameURLExpiry)
	if event.PresignedImageURL == "" {
		logger.Warn().Str("frameKey", event.S3ImageKey).Msg("No image link for outlier event")
	}
}

// FrameKey maps a result key to the extracted frame it was computed from.
func (p *Processor) FrameKey(resultKey string) string {
	key := strings.Replace(resultKey, p.cfg.ResultsPrefix+"/", p.cfg.FramesPrefix+"/", 1)
	return strings.TrimSuffix(key, ".json") + ".jpg"
}

// alert publishes the event if a topic is configured. Failures are logged
// and reported as false.
func (p *Processor) alert(ctx context.Context, logger *zerolog.Logger, event *store.OutlierEvent, detectedAt time.Time) bool {
	if p.publisher == nil {
		logger.Debug().Msg("Notifications disabled, alert skipped")
		return false
	}
	if _, err := p.publisher.Publish(ctx, notify.NewAlert(event, detectedAt, event.PresignedImageURL)); err != nil {
		logger.Warn().Err(err).Str("eventId", event.EventID).Msg("Failed to publish outlier alert")
		return false
	}
	return true
}
