package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/fpang/safesite-pipeline/internal/store"
)

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{59 * time.Second, "0:59"},
		{61 * time.Second, "1:01"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := FormatDurationShort(tt.in); got != tt.want {
			t.Errorf("FormatDurationShort(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteEvents(t *testing.T) {
	now := time.Unix(1760000090, 0)
	items := []store.Item{
		{
			"timestamp":                  float64(1760000000),
			"videoName":                  "vid1.mp4",
			"frameNumber":                float64(7),
			"outliers":                   []interface{}{map[string]interface{}{"class": "Tampering"}, map[string]interface{}{"class": "no_helmet"}},
			"presignedImageUrl":          "https://img/original",
			"presignedAnnotatedImageUrl": "https://img/annotated",
		},
		{"timestamp": float64(1760000060), "videoName": "vid2.mp4"},
	}

	var buf bytes.Buffer
	if err := WriteEvents(&buf, items, now); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	for _, want := range []string{"vid1.mp4", "1:30", "Tampering,no_helmet", "https://img/annotated"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row 1 missing %q: %s", want, lines[1])
		}
	}
	if !strings.Contains(lines[2], "0:30") || !strings.HasSuffix(strings.TrimSpace(lines[2]), "-") {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing file should be ignored, got %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SAFESITE_TEST_ENV_VALUE=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SAFESITE_TEST_ENV_VALUE", "")
	os.Unsetenv("SAFESITE_TEST_ENV_VALUE")
	if err := LoadEnvFile(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("SAFESITE_TEST_ENV_VALUE"); got != "from-file" {
		t.Errorf("env = %q", got)
	}
}

func TestStatus(t *testing.T) {
	prev := color.NoColor
	t.Cleanup(func() { color.NoColor = prev })

	color.NoColor = true
	if got := Status("outlier"); got != "outlier" {
		t.Errorf("plain status = %q", got)
	}

	color.NoColor = false
	if got := Status("outlier"); got == "outlier" || !strings.Contains(got, "outlier") {
		t.Errorf("colored status = %q", got)
	}
	if got := Status("pending"); got != "pending" {
		t.Errorf("unknown status = %q", got)
	}
}
