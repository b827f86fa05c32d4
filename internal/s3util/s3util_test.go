package s3util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{"simple", "s3://in/vid1/f1.jpg", "in", "vid1/f1.jpg", false},
		{"percent encoded", "s3://in/site%20A/frame_001.jpg", "in", "site A/frame_001.jpg", false},
		{"plus as space", "s3://in/site+A/frame_001.jpg", "in", "site A/frame_001.jpg", false},
		{"leading slashes", "s3://in//nested/f.png", "in", "nested/f.png", false},
		{"missing key", "s3://in/", "", "", true},
		{"missing bucket", "s3:///only/key.jpg", "", "", true},
		{"empty", "", "", "", true},
		{"undecodable escape kept", "s3://in/vid1/100%_frame.jpg", "in", "vid1/100%_frame.jpg", false},
		{"trailing percent", "s3://in/100%.mp4/f%2", "in", "100%.mp4/f%2", false},
		{"mixed escapes", "s3://in/a%2Bb+c%zz", "in", "a+b c%zz", false},
		{"hash and query kept in key", "s3://in/cam#1/f?.jpg", "in", "cam#1/f?.jpg", false},
		{"not s3", "https://in/f.jpg", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := ParseS3URI(tt.uri)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidS3URI) {
					t.Fatalf("ParseS3URI(%q) error = %v, want ErrInvalidS3URI", tt.uri, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseS3URI(%q) unexpected error: %v", tt.uri, err)
			}
			if bucket != tt.wantBucket || key != tt.wantKey {
				t.Errorf("ParseS3URI(%q) = (%q, %q), want (%q, %q)", tt.uri, bucket, key, tt.wantBucket, tt.wantKey)
			}
		})
	}
}

func TestFormatS3URI_RoundTrip(t *testing.T) {
	keys := []string{
		"annotated-frames/vid1.mp4/f1.jpg",
		"annotated-frames/site+A.mp4/frame_001.jpg",
		"annotated-frames/cam#1.mp4/frame_001.jpg",
		"annotated-frames/100%.mp4/frame_001.jpg",
		"annotated-frames/site A?.mp4/frame%20001.jpg",
	}
	for _, want := range keys {
		uri := FormatS3URI("out", want)
		bucket, key, err := SplitS3URI(uri)
		if err != nil {
			t.Fatalf("SplitS3URI(%q): %v", uri, err)
		}
		if bucket != "out" || key != want {
			t.Errorf("round trip of %q = (%q, %q)", want, bucket, key)
		}
	}
}

type stubPresigner struct {
	calls int
	err   error
}

func (s *stubPresigner) PresignGet(_ context.Context, bucket, key string, expiry time.Duration) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "https://" + bucket + ".s3.amazonaws.com/" + key + "?X-Amz-Expires=" + expiry.String(), nil
}

func TestTryPresign(t *testing.T) {
	ctx := context.Background()
	p := &stubPresigner{}

	if got := TryPresign(ctx, p, "b", "k.jpg", time.Hour); got == "" {
		t.Error("expected non-empty URL for valid input")
	}
	if got := TryPresign(ctx, p, "", "k.jpg", time.Hour); got != "" {
		t.Errorf("expected empty URL for missing bucket, got %q", got)
	}
	if got := TryPresign(ctx, p, "b", "", time.Hour); got != "" {
		t.Errorf("expected empty URL for missing key, got %q", got)
	}
	if p.calls != 1 {
		t.Errorf("presigner called %d times, want 1", p.calls)
	}

	failing := &stubPresigner{err: errors.New("no credentials")}
	if got := TryPresign(ctx, failing, "b", "k.jpg", time.Hour); got != "" {
		t.Errorf("expected empty URL on signing failure, got %q", got)
	}
}
