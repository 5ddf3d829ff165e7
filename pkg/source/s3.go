package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// getObjectAPI is the subset of the S3 client used by S3.
type getObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 streams objects with ranged GETs.
type S3 struct {
	client getObjectAPI
}

// NewS3 creates an S3 opener using the default AWS configuration chain.
func NewS3(ctx context.Context) (*S3, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewS3WithConfig(cfg), nil
}

// NewS3WithConfig creates an S3 opener from an existing AWS config.
func NewS3WithConfig(cfg aws.Config) *S3 {
	return &S3{client: s3.NewFromConfig(cfg)}
}

// Open streams s3://bucket/key starting at offset. An offset at the end of
// the object yields an empty stream.
func (c *S3) Open(ctx context.Context, uri string, offset int64) (io.ReadCloser, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	in := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if offset > 0 {
		in.Range = aws.String(rangeFrom(offset))
	}
	resp, err := c.client.GetObject(ctx, in)
	if err != nil {
		if offset > 0 && isInvalidRange(err) {
			return io.NopCloser(bytes.NewReader(nil)), nil
		}
		return nil, fmt.Errorf("get object s3://%s/%s: %w", bucket, key, err)
	}
	return resp.Body, nil
}

// rangeFrom builds an open-ended HTTP Range header value.
func rangeFrom(offset int64) string {
	return fmt.Sprintf("bytes=%d-", offset)
}

// isInvalidRange reports whether err is S3 rejecting a range that starts at
// or past the end of the object.
func isInvalidRange(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange" {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusRequestedRangeNotSatisfiable
}
