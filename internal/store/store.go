// Package store persists outlier events in DynamoDB and reads them back for
// the query endpoint.
//
// Table layout (default name SafeSiteOutlierEvents):
//
//	video_frame_timestamp  (S, partition key)  "<video>_<frame stem>"
//	timestamp              (N, sort key)       epoch seconds at detection
//
// Every numeric attribute is written through Decimalize as an exact decimal
// string, so stored confidences match the detector's input digit for digit.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Attribute names used by the table and by the front end.
const (
	AttrPartitionKey = "video_frame_timestamp"
	AttrSortKey      = "timestamp"
	AttrVideoName    = "videoName"
	AttrS3Bucket     = "s3Bucket"
	AttrS3ImageKey   = "s3ImageKey"
	AttrAnnotatedURI = "annotated_frame_s3_uri"
)

// ErrDuplicateEvent is returned by PutEvent when an event with the same
// partition and sort key already exists.
var ErrDuplicateEvent = errors.New("outlier event already recorded")

// Outlier is one matched detection within an event.
type Outlier struct {
	Class      string      `json:"class"`
	Confidence float64     `json:"confidence"`
	Box        interface{} `json:"box"`
}

// OutlierEvent is the record written for a frame with at least one outlier.
type OutlierEvent struct {
	EventID             string    `json:"video_frame_timestamp"`
	Timestamp           int64     `json:"timestamp"`
	VideoName           string    `json:"videoName"`
	FrameNumber         int       `json:"frameNumber"`
	S3Bucket            string    `json:"s3Bucket"`
	S3Key               string    `json:"s3Key"`
	S3ImageKey          string    `json:"s3ImageKey,omitempty"`
	PresignedImageURL   string    `json:"presignedImageUrl,omitempty"`
	AnnotatedFrameS3URI string    `json:"annotated_frame_s3_uri,omitempty"`
	Outliers            []Outlier `json:"outliers"`
	TotalDetections     int       `json:"totalDetections"`
	OutlierCount        int       `json:"outlierCount"`
	TimestampISO        string    `json:"timestampISO"`
	EventUUID           string    `json:"eventUuid"`
}

// Item is a table row as a generic attribute map. Numbers are float64.
type Item map[string]interface{}

// ScanFilter narrows a scan. Zero values mean "no constraint", except
// Limit which must be positive.
type ScanFilter struct {
	Limit     int
	VideoName string
	Start     *int64
	End       *int64
}

// OutlierStore is the persistence interface used by the detector and fetcher.
type OutlierStore interface {
	// PutEvent writes a new event. Returns ErrDuplicateEvent if the key exists.
	PutEvent(ctx context.Context, event *OutlierEvent) error

	// ScanEvents returns at most filter.Limit matching items in table order.
	ScanEvents(ctx context.Context, filter ScanFilter) ([]Item, error)
}

// ToItem converts an event to its generic form with every number replaced
// by a Decimal.
func (e *OutlierEvent) ToItem() (map[string]interface{}, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal outlier event: %w", err)
	}
	var generic map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("unmarshal outlier event: %w", err)
	}
	converted, err := Decimalize(generic)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", e.EventID, err)
	}
	return converted.(map[string]interface{}), nil
}
