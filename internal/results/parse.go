package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/fpang/safesite-pipeline/internal/inference"
)

// ErrMalformedFrame is wrapped by ParseFrameMessage for bodies that cannot
// be processed.
var ErrMalformedFrame = errors.New("malformed frame message")

// Fallbacks for frame messages that omit the optional fields.
const (
	UnknownVideo = "unknown-video"
	UnknownFrame = "unknown-frame.jpg"
)

// FrameMessage is the queue body announcing a freshly extracted frame.
type FrameMessage struct {
	S3URI            string `json:"s3_uri"`
	OriginalVideoKey string `json:"original_video_key"`
	FrameFile        string `json:"frame_file"`
}

// ParseFrameMessage decodes a queue body. s3_uri is required; the video key
// and frame file fall back to placeholders.
func ParseFrameMessage(body string) (FrameMessage, error) {
	var msg FrameMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if strings.TrimSpace(msg.S3URI) == "" {
		return msg, fmt.Errorf("%w: missing s3_uri", ErrMalformedFrame)
	}
	if msg.OriginalVideoKey == "" {
		msg.OriginalVideoKey = UnknownVideo
	}
	if msg.FrameFile == "" {
		msg.FrameFile = UnknownFrame
	}
	return msg, nil
}

// StoredRecord is a result record as read back by the detector. Objects in
// the results prefix may come from older writers, so every field is
// optional and validated here.
type StoredRecord struct {
	VideoID             string
	FrameNumber         int
	HasFrameNumber      bool
	Detections          []inference.Detection
	ProcessedFrameURL   *string
	AnnotatedFrameS3URI string
}

// ParseStoredRecord decodes a result object. Only a body that is not a JSON
// object is an error; wrongly typed fields are treated as absent.
func ParseStoredRecord(data []byte) (StoredRecord, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return StoredRecord{}, fmt.Errorf("decode result record: %w", err)
	}

	var rec StoredRecord
	_ = json.Unmarshal(raw["video_id"], &rec.VideoID)
	_ = json.Unmarshal(raw["annotated_frame_s3_uri"], &rec.AnnotatedFrameS3URI)

	var processed string
	if present(raw["processed_frame_url"]) && json.Unmarshal(raw["processed_frame_url"], &processed) == nil {
		rec.ProcessedFrameURL = &processed
	}

	var num float64
	if present(raw["frame_number"]) && json.Unmarshal(raw["frame_number"], &num) == nil &&
		num >= 0 && num == math.Trunc(num) && num <= math.MaxInt32 {
		rec.FrameNumber = int(num)
		rec.HasFrameNumber = true
	}

	rec.Detections = inference.DecodeDetections(raw["detections"])
	return rec, nil
}

// present reports whether a field exists and is not JSON null.
func present(v json.RawMessage) bool {
	return len(v) > 0 && string(v) != "null"
}
