package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/teranos/pressline/am"
	"github.com/teranos/pressline/errors"
)

// objectPutter is the slice of the S3 client the store needs
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes artifacts to an S3 (or S3-compatible) bucket
type S3Store struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Store loads AWS config from the environment and builds a client.
// A custom endpoint switches to path-style addressing for MinIO and friends.
func NewS3Store(ctx context.Context, cfg am.ArtifactsConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewInvalidRequestError("artifacts.bucket is required for the s3 backend")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3StoreWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3StoreWithClient(client objectPutter, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// Put uploads the artifact as application/json
func (s *S3Store) Put(ctx context.Context, jobID string, artifact json.RawMessage) (string, error) {
	key, err := objectKey(s.prefix, jobID)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(artifact),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{"job-id": jobID},
	})
	if err != nil {
		err = errors.Wrap(err, "put object")
		return "", errors.WithDetail(err, fmt.Sprintf("Bucket: %s, Key: %s", s.bucket, key))
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
