// Package config reads the environment-style settings of the three
// pipeline functions. Each Load function is called once at cold start; a
// returned error means the function cannot run and the caller should abort.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrMissingEnv is wrapped by every error about a required variable.
var ErrMissingEnv = errors.New("missing required environment variable")

// Defaults shared with the deployed stack.
const (
	DefaultTable           = "SafeSiteOutlierEvents"
	DefaultOutputPrefix    = "inference-results"
	DefaultAnnotatedPrefix = "annotated-frames"
	DefaultFramesPrefix    = "extracted-frames"
	DefaultOutlierClasses  = "tampering,intrusion,unauthorized_access,no_helmet,no_suit"
	DefaultPresignExpiry   = time.Hour
)

// Caller configures the inference caller.
type Caller struct {
	EndpointName string
	// EndpointParam is an SSM parameter path holding the endpoint name,
	// consulted only when EndpointName is empty.
	EndpointParam   string
	OutputBucket    string
	OutputPrefix    string
	AnnotatedBucket string
	AnnotatedPrefix string
}

// Detector configures the outlier detector.
type Detector struct {
	TableName      string
	TopicARN       string
	EventBusName   string
	ResultsPrefix  string
	FramesPrefix   string
	OutlierClasses ClassSet
}

// Fetcher configures the outlier query endpoint.
type Fetcher struct {
	TableName     string
	PresignExpiry time.Duration
}

// LoadCaller reads caller settings. The endpoint name may be resolved later
// from SSM, so only the bucket is strictly required here.
func LoadCaller() (Caller, error) {
	c := Caller{
		EndpointName:    os.Getenv("SAGEMAKER_ENDPOINT_NAME"),
		EndpointParam:   os.Getenv("SSM_ENDPOINT_NAME_PARAM"),
		OutputBucket:    os.Getenv("OUTPUT_BUCKET"),
		OutputPrefix:    envOrDefault("OUTPUT_PREFIX", DefaultOutputPrefix),
		AnnotatedPrefix: envOrDefault("ANNOTATED_PREFIX", DefaultAnnotatedPrefix),
	}
	c.AnnotatedBucket = envOrDefault("ANNOTATED_BUCKET", c.OutputBucket)

	if c.OutputBucket == "" {
		return c, fmt.Errorf("%w: OUTPUT_BUCKET", ErrMissingEnv)
	}
	if c.EndpointName == "" && c.EndpointParam == "" {
		return c, fmt.Errorf("%w: SAGEMAKER_ENDPOINT_NAME", ErrMissingEnv)
	}
	return c, nil
}

// LoadDetector reads detector settings. Every field has a default; an
// empty TopicARN disables notifications.
func LoadDetector() (Detector, error) {
	classes := ParseClasses(envOrDefault("OUTLIER_CLASSES", DefaultOutlierClasses))
	if len(classes) == 0 {
		return Detector{}, fmt.Errorf("OUTLIER_CLASSES contains no class names")
	}
	return Detector{
		TableName:      envOrDefault("DYNAMODB_TABLE", DefaultTable),
		TopicARN:       os.Getenv("SNS_TOPIC_ARN"),
		EventBusName:   os.Getenv("OUTLIER_EVENT_BUS_NAME"),
		ResultsPrefix:  strings.Trim(envOrDefault("RESULTS_PREFIX", DefaultOutputPrefix), "/"),
		FramesPrefix:   strings.Trim(envOrDefault("FRAMES_PREFIX", DefaultFramesPrefix), "/"),
		OutlierClasses: classes,
	}, nil
}

// LoadFetcher reads fetcher settings.
func LoadFetcher() (Fetcher, error) {
	f := Fetcher{
		TableName:     envOrDefault("DYNAMODB_TABLE", DefaultTable),
		PresignExpiry: DefaultPresignExpiry,
	}
	if raw := os.Getenv("PRESIGN_EXPIRY_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return f, fmt.Errorf("PRESIGN_EXPIRY_SECONDS must be a positive integer, got %q", raw)
		}
		f.PresignExpiry = time.Duration(secs) * time.Second
	}
	return f, nil
}

// ClassSet is a set of lowercase outlier labels.
type ClassSet map[string]struct{}

// ParseClasses splits a comma-separated list, trimming and lowercasing each
// entry and dropping empties.
func ParseClasses(list string) ClassSet {
	set := make(ClassSet)
	for _, cls := range strings.Split(list, ",") {
		cls = strings.ToLower(strings.TrimSpace(cls))
		if cls != "" {
			set[cls] = struct{}{}
		}
	}
	return set
}

// Contains reports whether label, lowercased, is an exact member.
func (s ClassSet) Contains(label string) bool {
	_, ok := s[strings.ToLower(label)]
	return ok
}

// Sorted returns the members in lexical order, for logging.
func (s ClassSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// String joins the members with commas.
func (s ClassSet) String() string {
	return strings.Join(s.Sorted(), ",")
}

// envOrDefault returns the value of the named environment variable, or
// defaultVal if the variable is empty or unset.
func envOrDefault(envVar, defaultVal string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultVal
}
