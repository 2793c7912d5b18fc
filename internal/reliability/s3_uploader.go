package reliability

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Config configures an S3-compatible bucket (AWS, R2, MinIO)
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Uploader uploads archives with the multipart upload manager
type S3Uploader struct {
	bucket   string
	uploader *manager.Uploader
	log      zerolog.Logger
}

// NewS3Uploader builds an uploader. Static credentials are used when both keys
// are set; otherwise the default AWS credential chain applies.
func NewS3Uploader(ctx context.Context, cfg S3Config, log zerolog.Logger) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{
		bucket:   cfg.Bucket,
		uploader: manager.NewUploader(client),
		log:      log.With().Str("component", "s3_uploader").Logger(),
	}, nil
}

// Upload implements Uploader
func (u *S3Uploader) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	out, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/gzip"),
	})
	if err != nil {
		return err
	}

	u.log.Debug().
		Str("bucket", u.bucket).
		Str("key", key).
		Str("location", out.Location).
		Msg("Archive uploaded")
	return nil
}
