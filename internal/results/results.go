// Package results defines the inference result record shared by the caller
// (writer) and the detector (reader), plus the deterministic S3 key layout
// and frame-number parsing both sides rely on.
package results

import (
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/fpang/safesite-pipeline/internal/inference"
)

// LegacyProcessedFrameURL is the placeholder older caller builds wrote in
// processed_frame_url. Readers treat it as absent.
const LegacyProcessedFrameURL = "N/A (Processed by SageMaker)"

// Record is the JSON document written under the results prefix for each frame.
type Record struct {
	FrameID             string                `json:"frame_id"`
	VideoID             string                `json:"video_id"`
	FrameNumber         int                   `json:"frame_number"`
	Detections          []inference.Detection `json:"detections"`
	ProcessedFrameURL   *string               `json:"processed_frame_url"`
	AnnotatedFrameS3URI string                `json:"annotated_frame_s3_uri"`
	OutlierDetected     bool                  `json:"outlier_detected"`
	OutlierReason       *string               `json:"outlier_reason"`
}

// NewRecord builds the record for a freshly processed frame. Outlier fields
// are always unset at write time; the detector owns that decision.
func NewRecord(videoName string, frameNumber int, detections []inference.Detection, annotatedURI string) Record {
	if detections == nil {
		detections = []inference.Detection{}
	}
	return Record{
		FrameID:             FrameID(videoName, frameNumber),
		VideoID:             videoName,
		FrameNumber:         frameNumber,
		Detections:          detections,
		AnnotatedFrameS3URI: annotatedURI,
	}
}

// FrameID is "<video>_frame_<5-digit number>".
func FrameID(videoName string, frameNumber int) string {
	return videoName + "_frame_" + padFrame(frameNumber)
}

func padFrame(n int) string {
	s := strconv.Itoa(n)
	if len(s) < 5 {
		s = strings.Repeat("0", 5-len(s)) + s
	}
	return s
}

// ProcessedURL returns the endpoint-provided processed frame URL, treating
// null, empty and the legacy placeholder as absent.
func ProcessedURL(raw *string) (string, bool) {
	if raw == nil {
		return "", false
	}
	u := strings.TrimSpace(*raw)
	if u == "" || u == LegacyProcessedFrameURL {
		return "", false
	}
	return u, true
}

var (
	firstDigits = regexp.MustCompile(`\d+`)
	frameDigits = regexp.MustCompile(`(?i)frame[_-]?(\d+)`)
)

// FrameNumberFromFile returns the integer formed by the first run of digits
// in name, or 0 when there is none.
func FrameNumberFromFile(name string) int {
	m := firstDigits.FindString(name)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		// Digit run longer than an int; fall back like a missing number.
		return 0
	}
	return n
}

// FrameNumberFromKey finds the digits following a "frame" token
// (case-insensitive, optional "_" or "-" separator).
func FrameNumberFromKey(name string) (int, bool) {
	m := frameDigits.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// VideoBaseName is the last path element of a video key.
func VideoBaseName(videoKey string) string {
	if videoKey == "" {
		return ""
	}
	return path.Base(videoKey)
}

// JSONName replaces the frame file's extension with .json.
func JSONName(frameFile string) string {
	return Stem(frameFile) + ".json"
}

// Stem strips the extension from a file name.
func Stem(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}

// JoinKey joins non-empty key segments with "/", trimming stray slashes on
// the prefix.
func JoinKey(prefix string, parts ...string) string {
	segs := make([]string, 0, len(parts)+1)
	if p := strings.Trim(prefix, "/"); p != "" {
		segs = append(segs, p)
	}
	for _, part := range parts {
		if part != "" {
			segs = append(segs, part)
		}
	}
	return strings.Join(segs, "/")
}

// AnnotatedKey is <prefix>/<video>/<frame file>.
func AnnotatedKey(prefix, videoName, frameFile string) string {
	return JoinKey(prefix, videoName, frameFile)
}

// ResultKey is <prefix>/<video>/<frame stem>.json.
func ResultKey(prefix, videoName, frameFile string) string {
	return JoinKey(prefix, videoName, JSONName(frameFile))
}
