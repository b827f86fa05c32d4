package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadCaller_Defaults(t *testing.T) {
	t.Setenv("SAGEMAKER_ENDPOINT_NAME", "safesite-yolo")
	t.Setenv("OUTPUT_BUCKET", "safesite-out")
	t.Setenv("ANNOTATED_BUCKET", "")
	t.Setenv("OUTPUT_PREFIX", "")
	t.Setenv("ANNOTATED_PREFIX", "")

	c, err := LoadCaller()
	if err != nil {
		t.Fatalf("LoadCaller() error = %v", err)
	}
	if c.AnnotatedBucket != "safesite-out" {
		t.Errorf("AnnotatedBucket = %q, want output bucket", c.AnnotatedBucket)
	}
	if c.OutputPrefix != DefaultOutputPrefix || c.AnnotatedPrefix != DefaultAnnotatedPrefix {
		t.Errorf("prefixes = %q, %q", c.OutputPrefix, c.AnnotatedPrefix)
	}
}

func TestLoadCaller_MissingBucket(t *testing.T) {
	t.Setenv("SAGEMAKER_ENDPOINT_NAME", "safesite-yolo")
	t.Setenv("OUTPUT_BUCKET", "")

	_, err := LoadCaller()
	if !errors.Is(err, ErrMissingEnv) {
		t.Errorf("expected ErrMissingEnv, got %v", err)
	}
}

func TestLoadCaller_EndpointFromSSM(t *testing.T) {
	t.Setenv("SAGEMAKER_ENDPOINT_NAME", "")
	t.Setenv("SSM_ENDPOINT_NAME_PARAM", "/safesite/prod/endpoint")
	t.Setenv("OUTPUT_BUCKET", "safesite-out")

	c, err := LoadCaller()
	if err != nil {
		t.Fatalf("LoadCaller() error = %v", err)
	}
	if c.EndpointParam != "/safesite/prod/endpoint" {
		t.Errorf("EndpointParam = %q", c.EndpointParam)
	}

	t.Setenv("SSM_ENDPOINT_NAME_PARAM", "")
	if _, err := LoadCaller(); !errors.Is(err, ErrMissingEnv) {
		t.Errorf("expected ErrMissingEnv without endpoint or param, got %v", err)
	}
}

func TestLoadDetector_Defaults(t *testing.T) {
	t.Setenv("DYNAMODB_TABLE", "")
	t.Setenv("SNS_TOPIC_ARN", "")
	t.Setenv("OUTLIER_CLASSES", "")

	d, err := LoadDetector()
	if err != nil {
		t.Fatalf("LoadDetector() error = %v", err)
	}
	if d.TableName != DefaultTable {
		t.Errorf("TableName = %q", d.TableName)
	}
	if d.TopicARN != "" {
		t.Errorf("TopicARN = %q, want empty", d.TopicARN)
	}
	want := "intrusion,no_helmet,no_suit,tampering,unauthorized_access"
	if got := d.OutlierClasses.String(); got != want {
		t.Errorf("OutlierClasses = %q, want %q", got, want)
	}
}

func TestLoadDetector_EmptyClassList(t *testing.T) {
	t.Setenv("OUTLIER_CLASSES", " , ,")
	if _, err := LoadDetector(); err == nil {
		t.Error("expected error for class list with no names")
	}
}

func TestParseClasses(t *testing.T) {
	set := ParseClasses(" Tampering , NO_HELMET,,intrusion ")
	for _, label := range []string{"tampering", "TAMPERING", "No_Helmet", "intrusion"} {
		if !set.Contains(label) {
			t.Errorf("Contains(%q) = false, want true", label)
		}
	}
	for _, label := range []string{"helmet", "no_helmet_x", "tamper", ""} {
		if set.Contains(label) {
			t.Errorf("Contains(%q) = true, want false", label)
		}
	}
}

func TestLoadFetcher_Expiry(t *testing.T) {
	t.Setenv("PRESIGN_EXPIRY_SECONDS", "")
	f, err := LoadFetcher()
	if err != nil || f.PresignExpiry != time.Hour {
		t.Fatalf("LoadFetcher() = %v, %v", f.PresignExpiry, err)
	}

	t.Setenv("PRESIGN_EXPIRY_SECONDS", "900")
	f, err = LoadFetcher()
	if err != nil || f.PresignExpiry != 15*time.Minute {
		t.Fatalf("LoadFetcher() = %v, %v", f.PresignExpiry, err)
	}

	t.Setenv("PRESIGN_EXPIRY_SECONDS", "soon")
	if _, err := LoadFetcher(); err == nil {
		t.Error("expected error for non-numeric expiry")
	}
}
