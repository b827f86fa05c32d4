package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/fpang/safesite-pipeline/internal/store"
)

func outliers(n int) []store.Outlier {
	out := make([]store.Outlier, n)
	for i := range out {
		out[i] = store.Outlier{Class: "Tampering", Confidence: 0.92}
	}
	return out
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, SeverityMedium},
		{2, SeverityMedium},
		{3, SeverityHigh},
		{10, SeverityHigh},
	}
	for _, tt := range tests {
		if got := Severity(tt.n); got != tt.want {
			t.Errorf("Severity(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestSummary(t *testing.T) {
	two := []store.Outlier{
		{Class: "no_helmet", Confidence: 0.92},
		{Class: "Intrusion", Confidence: 0.5},
	}
	if got := Summary(two); got != "no_helmet (92%), Intrusion (50%)" {
		t.Errorf("Summary = %q", got)
	}

	five := Summary(outliers(5))
	if strings.Count(five, "Tampering") != 3 || !strings.HasSuffix(five, " +2 more") {
		t.Errorf("Summary(5) = %q", five)
	}
	if got := Summary(nil); got != "" {
		t.Errorf("Summary(nil) = %q", got)
	}
}

func TestBody(t *testing.T) {
	a := Alert{
		EventID:         "vid1.mp4_frame_00001",
		VideoName:       "vid1.mp4",
		FrameNumber:     1,
		DetectedAt:      time.Date(2025, 10, 9, 8, 53, 20, 0, time.UTC),
		Outliers:        outliers(1),
		TotalDetections: 4,
	}
	body := Body(a)
	for _, want := range []string{
		"Video: vid1.mp4",
		"Frame: 1",
		"Time: 2025-10-09 08:53:20 UTC",
		"Detected Issues (1):",
		"Total Detections: 4",
		"View Image: Image unavailable",
		"Event ID: vid1.mp4_frame_00001",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}

	a.ImageURL = "https://example.com/f.jpg"
	if !strings.Contains(Body(a), "View Image: https://example.com/f.jpg") {
		t.Error("body should include the image URL")
	}
	if got := SMS(a); got != "SafeSite Alert: 1 issue(s) in vid1.mp4 frame 1. Tampering (92%)" {
		t.Errorf("SMS = %q", got)
	}
}

type fakeSNS struct {
	calls []*sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSNSPublisher_Publish(t *testing.T) {
	fake := &fakeSNS{}
	p := NewSNSPublisher(fake, "arn:aws:sns:us-east-1:123456789012:safesite")

	id, err := p.Publish(context.Background(), Alert{VideoName: "vid1.mp4", Outliers: outliers(3)})
	if err != nil {
		t.Fatalf("Publish error = %v", err)
	}
	if id != "msg-1" {
		t.Errorf("id = %q", id)
	}

	in := fake.calls[0]
	if aws.ToString(in.MessageStructure) != "json" {
		t.Errorf("MessageStructure = %q", aws.ToString(in.MessageStructure))
	}
	if aws.ToString(in.Subject) != "🚨 SafeSite Alert: 3 Safety Issue(s) Detected" {
		t.Errorf("Subject = %q", aws.ToString(in.Subject))
	}

	var bodies map[string]string
	if err := json.Unmarshal([]byte(aws.ToString(in.Message)), &bodies); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	for _, k := range []string{"default", "email", "sms"} {
		if bodies[k] == "" {
			t.Errorf("missing %s body", k)
		}
	}

	attrs := map[string]string{}
	for k, v := range in.MessageAttributes {
		attrs[k] = aws.ToString(v.StringValue)
		if aws.ToString(v.DataType) != "String" {
			t.Errorf("%s DataType = %q", k, aws.ToString(v.DataType))
		}
	}
	if attrs["eventType"] != EventTypeOutlier || attrs["severity"] != SeverityHigh || attrs["videoName"] != "vid1.mp4" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestSNSPublisher_Error(t *testing.T) {
	p := NewSNSPublisher(&fakeSNS{err: errors.New("throttled")}, "arn")
	if _, err := p.Publish(context.Background(), Alert{Outliers: outliers(1)}); err == nil {
		t.Error("expected error")
	}
}

type fakeBus struct {
	inputs []*eventbridge.PutEventsInput
	out    *eventbridge.PutEventsOutput
}

func (f *fakeBus) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.out != nil {
		return f.out, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func TestEventBridgeEmitter_Emit(t *testing.T) {
	bus := &fakeBus{}
	e := NewEventBridgeEmitter(bus, "safesite-events")
	event := &store.OutlierEvent{EventID: "vid1.mp4_frame_00001", VideoName: "vid1.mp4", Outliers: outliers(1)}

	if err := e.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit error = %v", err)
	}
	entry := bus.inputs[0].Entries[0]
	if aws.ToString(entry.Source) != EventSource || aws.ToString(entry.DetailType) != EventDetailType {
		t.Errorf("entry = %+v", entry)
	}
	if aws.ToString(entry.EventBusName) != "safesite-events" {
		t.Errorf("bus = %q", aws.ToString(entry.EventBusName))
	}
	var detail map[string]interface{}
	if err := json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail); err != nil {
		t.Fatal(err)
	}
	if detail["video_frame_timestamp"] != "vid1.mp4_frame_00001" {
		t.Errorf("detail = %v", detail)
	}
}

func TestEventBridgeEmitter_FailedEntry(t *testing.T) {
	bus := &fakeBus{out: &eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries: []eventbridgetypes.PutEventsResultEntry{
			{ErrorCode: aws.String("InternalFailure"), ErrorMessage: aws.String("boom")},
		},
	}}
	e := NewEventBridgeEmitter(bus, "b")
	if err := e.Emit(context.Background(), &store.OutlierEvent{EventID: "x"}); err == nil {
		t.Error("expected error for failed entry")
	}
}
