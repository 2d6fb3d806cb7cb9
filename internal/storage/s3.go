package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3Client uploads artifacts to an S3-compatible bucket.
type S3Client struct {
	s3Client  *s3.Client
	bucket    string
	publicURL string // optional base URL for the public bucket
}

// NewS3Client creates an S3 uploader. endpoint is optional (MinIO/R2).
func NewS3Client(endpoint, region, bucket, accessKey, secretKey, publicURL string) (*S3Client, error) {
	configOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	}
	if endpoint != "" {
		configOpts = append(configOpts, awsconfig.WithBaseEndpoint(endpoint))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing for MinIO compatibility; checksums only when
	// required so S3-compatible backends (e.g. R2) work.
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	log.Info().Str("endpoint", endpoint).Str("bucket", bucket).Msg("S3 client initialized")

	return &S3Client{s3Client: client, bucket: bucket, publicURL: publicURL}, nil
}

// Upload puts the object and returns its public URI. contentLength must be
// > 0; S3-compatible backends require the Content-Length header.
func (c *S3Client) Upload(ctx context.Context, key string, data io.Reader, contentType string, contentLength int64) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          data,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(contentLength),
	}
	if _, err := c.s3Client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Info().Str("bucket", c.bucket).Str("key", key).Msg("Artifact uploaded to S3")
	return c.objectURL(key), nil
}

func (c *S3Client) objectURL(key string) string {
	if c.publicURL != "" {
		return strings.TrimSuffix(c.publicURL, "/") + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", c.bucket, key)
}
