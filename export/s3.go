package export

import (
	"bytes"
	"context"
	"encoding/json"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/stevemurr/jsondb/store"
)

// PutObjectAPI is the part of *s3.Client used by S3Sink.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads each collection as <prefix>/<database>/<collection>.json,
// and its schema, if any, as <prefix>/<database>/<collection>-config.json.
// The object layout mirrors the on-disk one.
type S3Sink struct {
	bucket string
	prefix string
	client PutObjectAPI
}

// NewS3Sink creates a sink backed by an S3 client built from config.
// pathStyle is needed by most S3 compatible servers.
func NewS3Sink(bucket, prefix string, config aws.Config, pathStyle bool) *S3Sink {
	client := s3.NewFromConfig(config, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
	})
	return NewS3SinkWithClient(bucket, prefix, client)
}

func NewS3SinkWithClient(bucket, prefix string, client PutObjectAPI) *S3Sink {
	return &S3Sink{bucket: bucket, prefix: prefix, client: client}
}

func (s *S3Sink) Close() error { return nil }

func (s *S3Sink) key(database, name string) string {
	return path.Join(s.prefix, database, name)
}

func (s *S3Sink) put(ctx context.Context, key string, v any) error {
	buffer, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buffer),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s *S3Sink) WriteCollection(ctx context.Context, c Collection) error {
	records := c.Records
	if records == nil {
		records = []store.Record{}
	}
	if err := s.put(ctx, s.key(c.Database, c.Name+".json"), records); err != nil {
		return err
	}
	if c.Schema == nil {
		return nil
	}
	return s.put(ctx, s.key(c.Database, c.Name+"-config.json"), c.Schema)
}
