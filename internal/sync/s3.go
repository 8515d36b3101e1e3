package sync

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alfredjeanlab/sessions/internal/codec"
)

const ndjsonContentType = "application/x-ndjson"

// S3API is the part of the S3 client the destination needs.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options locate the export object.
type S3Options struct {
	Bucket string
	Key    string
	Region string
	// Endpoint switches to path-style addressing against an S3-compatible
	// server such as MinIO.
	Endpoint string
	// Compress uploads a zstd frame with Content-Encoding: zstd.
	Compress bool
}

// S3Destination uploads each export as a single object.
type S3Destination struct {
	client S3API
	opts   S3Options
}

// NewS3Destination builds an S3 client from the default AWS credential chain.
func NewS3Destination(ctx context.Context, opts S3Options) (*S3Destination, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3DestinationFromClient(client, opts), nil
}

// NewS3DestinationFromClient uses an existing client.
func NewS3DestinationFromClient(client S3API, opts S3Options) *S3Destination {
	return &S3Destination{client: client, opts: opts}
}

func (d *S3Destination) Name() string {
	return "s3://" + d.opts.Bucket + "/" + d.opts.Key
}

func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(d.opts.Bucket),
		Key:         aws.String(d.opts.Key),
		ContentType: aws.String(ndjsonContentType),
	}
	if d.opts.Compress {
		data = codec.Frame(data)
		in.ContentEncoding = aws.String(codec.Zstd.ContentEncoding())
	}
	in.Body = bytes.NewReader(data)
	if _, err := d.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put s3 object %s: %w", d.Name(), err)
	}
	return nil
}
