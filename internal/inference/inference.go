// Package inference invokes the SageMaker object-detection endpoint and
// decodes its detections.
//
// Request:  {"image": "<base64 JPEG/PNG bytes>"}
// Response: {"detections": [{"label": "...", "confidence": 0.92, "bbox": [x1, y1, x2, y2]}]}
package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/rs/zerolog/log"
)

const contentTypeJSON = "application/json"

// Detection is one labeled, confidence-scored box. BBox is kept as returned
// by the endpoint; use Coords before drawing.
//
// A decoded detection remembers its source element and marshals back to it
// byte for byte, so result records carry fields this type does not model.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	BBox       *Box    `json:"bbox,omitempty"`

	raw json.RawMessage
}

type detectionFields Detection

// UnmarshalJSON accepts any JSON object. A label that is not a string reads
// as missing; a confidence that is neither a number nor a numeric string
// reads as 0.
func (d *Detection) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("detection is null")
	}

	*d = Detection{raw: append(json.RawMessage(nil), data...)}
	if v, ok := fields["label"]; ok {
		_ = json.Unmarshal(v, &d.Label)
	}
	if v, ok := fields["confidence"]; ok {
		d.Confidence = lenientFloat(v)
	}
	if v, ok := fields["bbox"]; ok && string(v) != "null" {
		d.BBox = &Box{}
		if err := d.BBox.UnmarshalJSON(v); err != nil {
			return err
		}
	}
	return nil
}

// MarshalJSON writes the source element when there is one.
func (d Detection) MarshalJSON() ([]byte, error) {
	if d.raw != nil {
		return d.raw, nil
	}
	return json.Marshal(detectionFields(d))
}

func lenientFloat(v json.RawMessage) float64 {
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}

// Coords returns the [x1,y1,x2,y2] box, or false when it is missing or
// malformed.
func (d Detection) Coords() ([4]float64, bool) {
	if d.BBox == nil {
		return [4]float64{}, false
	}
	return d.BBox.Coords()
}

// Request is the endpoint request body.
type Request struct {
	Image string `json:"image"`
}

// Response is the endpoint response body.
type Response struct {
	Detections []Detection `json:"detections"`
}

// Invoker is the subset of the SageMaker runtime client used here.
type Invoker interface {
	InvokeEndpoint(ctx context.Context, params *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// Detector runs detection on a single image.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]Detection, error)
}

// Endpoint calls one named SageMaker endpoint synchronously.
type Endpoint struct {
	client Invoker
	name   string
}

var _ Detector = (*Endpoint)(nil)

// NewEndpoint binds a runtime client to an endpoint name.
func NewEndpoint(client Invoker, name string) *Endpoint {
	return &Endpoint{client: client, name: name}
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string { return e.name }

// Detect base64-encodes image, invokes the endpoint and decodes the response.
func (e *Endpoint) Detect(ctx context.Context, image []byte) ([]Detection, error) {
	body, err := EncodeRequest(image)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := e.client.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(e.name),
		ContentType:  aws.String(contentTypeJSON),
		Accept:       aws.String(contentTypeJSON),
		Body:         body,
	})
	if err != nil {
		return nil, fmt.Errorf("InvokeEndpoint %s: %w", e.name, err)
	}

	detections, err := DecodeResponse(out.Body)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", e.name, err)
	}

	log.Debug().
		Str("endpoint", e.name).
		RawJSON("raw", out.Body).
		Int("detections", len(detections)).
		Dur("elapsed", time.Since(start)).
		Msg("Endpoint responded")
	return detections, nil
}

// EncodeRequest builds the JSON request body for image.
func EncodeRequest(image []byte) ([]byte, error) {
	body, err := json.Marshal(Request{Image: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return nil, fmt.Errorf("marshal inference request: %w", err)
	}
	return body, nil
}

// DecodeResponse parses the endpoint response body. A missing or non-list
// detections field yields an empty list; an element that is not a JSON
// object is dropped with a warning.
func DecodeResponse(body []byte) ([]Detection, error) {
	var envelope struct {
		Detections json.RawMessage `json:"detections"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	return DecodeDetections(envelope.Detections), nil
}

// DecodeDetections decodes a raw detections value leniently.
func DecodeDetections(raw json.RawMessage) []Detection {
	detections := []Detection{}
	if len(raw) == 0 || string(raw) == "null" {
		return detections
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		log.Warn().Str("detections", truncate(raw, 200)).Msg("'detections' is not a list, treating as empty")
		return detections
	}
	for i, item := range items {
		var d Detection
		if err := json.Unmarshal(item, &d); err != nil {
			log.Warn().Err(err).Int("index", i).Str("detection", truncate(item, 200)).Msg("Dropping malformed detection")
			continue
		}
		detections = append(detections, d)
	}
	return detections
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
