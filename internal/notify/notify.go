// Package notify announces outlier events: a multi-protocol SNS alert for
// humans and an optional EventBridge event for downstream automation.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fpang/safesite-pipeline/internal/store"
)

// Message attribute values.
const (
	EventTypeOutlier = "outlier_detection"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

const (
	summaryTop      = 3
	imageMissing    = "Image unavailable"
	alertTimeLayout = "2006-01-02 15:04:05"
)

// Alert carries what a human needs to triage one outlier event.
type Alert struct {
	EventID         string
	VideoName       string
	FrameNumber     int
	DetectedAt      time.Time
	Outliers        []store.Outlier
	TotalDetections int
	// ImageURL is empty when no link could be produced.
	ImageURL string
}

// NewAlert builds an alert from a persisted event.
func NewAlert(event *store.OutlierEvent, detectedAt time.Time, imageURL string) Alert {
	return Alert{
		EventID:         event.EventID,
		VideoName:       event.VideoName,
		FrameNumber:     event.FrameNumber,
		DetectedAt:      detectedAt,
		Outliers:        event.Outliers,
		TotalDetections: event.TotalDetections,
		ImageURL:        imageURL,
	}
}

// Publisher delivers alerts. Callers treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, alert Alert) (messageID string, err error)
}

// Emitter forwards persisted events to other systems.
type Emitter interface {
	Emit(ctx context.Context, event *store.OutlierEvent) error
}

// Severity is high for more than two outliers, medium otherwise.
func Severity(outlierCount int) string {
	if outlierCount > 2 {
		return SeverityHigh
	}
	return SeverityMedium
}

// Summary lists the first three outliers as "class (92%)", adding
// "+N more" when truncated.
func Summary(outliers []store.Outlier) string {
	n := len(outliers)
	if n > summaryTop {
		n = summaryTop
	}
	parts := make([]string, 0, n)
	for _, o := range outliers[:n] {
		parts = append(parts, fmt.Sprintf("%s (%.0f%%)", o.Class, o.Confidence*100))
	}
	s := strings.Join(parts, ", ")
	if extra := len(outliers) - summaryTop; extra > 0 {
		s += fmt.Sprintf(" +%d more", extra)
	}
	return s
}

// Subject is the email subject line.
func Subject(outlierCount int) string {
	return fmt.Sprintf("🚨 SafeSite Alert: %d Safety Issue(s) Detected", outlierCount)
}

// Body renders the long-form alert used for the default and email protocols.
func Body(a Alert) string {
	image := a.ImageURL
	if image == "" {
		image = imageMissing
	}

	var b strings.Builder
	b.WriteString("🚨 SAFETY ALERT: Outlier Detected\n\n")
	fmt.Fprintf(&b, "Video: %s\n", a.VideoName)
	fmt.Fprintf(&b, "Frame: %d\n", a.FrameNumber)
	fmt.Fprintf(&b, "Time: %s UTC\n\n", a.DetectedAt.UTC().Format(alertTimeLayout))
	fmt.Fprintf(&b, "Detected Issues (%d):\n%s\n\n", len(a.Outliers), Summary(a.Outliers))
	fmt.Fprintf(&b, "Total Detections: %d\n\n", a.TotalDetections)
	fmt.Fprintf(&b, "View Image: %s\n\n", image)
	fmt.Fprintf(&b, "Event ID: %s\n", a.EventID)
	return b.String()
}

// SMS renders the short text-message form.
func SMS(a Alert) string {
	return fmt.Sprintf("SafeSite Alert: %d issue(s) in %s frame %d. %s",
		len(a.Outliers), a.VideoName, a.FrameNumber, Summary(a.Outliers))
}
