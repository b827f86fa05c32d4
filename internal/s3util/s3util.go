// Package s3util wraps the S3 calls the pipeline makes: whole-object get and
// put, presigned GET links, and s3:// locator parsing. Handlers depend on the
// narrow ObjectStore and Presigner interfaces so tests can substitute fakes.
package s3util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// ErrInvalidS3URI is returned when a locator does not yield both a bucket and a key.
var ErrInvalidS3URI = errors.New("invalid S3 URI")

// ObjectStore reads and writes whole objects.
type ObjectStore interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

// Presigner issues time-limited GET links.
type Presigner interface {
	PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// Client implements ObjectStore and Presigner on top of the AWS SDK.
type Client struct {
	s3        *s3.Client
	presigner *s3.PresignClient
}

var (
	_ ObjectStore = (*Client)(nil)
	_ Presigner   = (*Client)(nil)
)

// NewClient wraps an S3 client and derives its presigner.
func NewClient(client *s3.Client) *Client {
	return &Client{s3: client, presigner: s3.NewPresignClient(client)}
}

// GetObject downloads an object fully into memory. Frames and result
// records are small enough that streaming to /tmp is not worthwhile.
func (c *Client) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Downloading from S3")
	result, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject s3://%s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// PutObject uploads body with the given content type and the project
// cost-allocation tag.
func (c *Client) PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
		Tagging:     ProjectTagging(),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject s3://%s/%s: %w", bucket, key, err)
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int("size", len(body)).Msg("Uploaded to S3")
	return nil
}

// PresignGet creates a pre-signed GET URL for an S3 object.
func (c *Client) PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	result, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject s3://%s/%s: %w", bucket, key, err)
	}
	return result.URL, nil
}

// TryPresign returns a presigned URL, or "" when the bucket or key is empty
// or signing fails. Failures are logged, never returned.
func TryPresign(ctx context.Context, p Presigner, bucket, key string, expiry time.Duration) string {
	if bucket == "" || key == "" {
		return ""
	}
	u, err := p.PresignGet(ctx, bucket, key, expiry)
	if err != nil {
		log.Warn().Err(err).Str("bucket", bucket).Str("key", key).Msg("Failed to generate presigned URL")
		return ""
	}
	return u
}

// ParseS3URI splits s3://bucket/key into its parts. The key is
// form-decoded, so "%20" and "+" both become a space. Escapes that do not
// decode, such as the "%_" in "100%_frame.jpg", are kept as written.
func ParseS3URI(uri string) (bucket, key string, err error) {
	bucket, key, err = SplitS3URI(uri)
	if err != nil {
		return "", "", err
	}
	return bucket, unquotePlus(key), nil
}

// SplitS3URI splits s3://bucket/key without decoding the key. Use it for
// locators the pipeline wrote itself with FormatS3URI.
func SplitS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidS3URI, uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	key = strings.TrimLeft(key, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidS3URI, uri)
	}
	return bucket, key, nil
}

// FormatS3URI is the inverse of SplitS3URI. The key is written as is.
func FormatS3URI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

// unquotePlus turns "+" into a space and decodes valid %XX escapes.
func unquotePlus(s string) string {
	if !strings.ContainsAny(s, "+%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	default:
		return c - '0'
	}
}
