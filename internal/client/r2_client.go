package client

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vizzle/studio/internal/config"
	"github.com/vizzle/studio/internal/model"
)

// ResultArchive keeps a durable copy of finished job outputs
type ResultArchive interface {
	Archive(ctx context.Context, userID string, job *model.Job, media *model.Media) (string, error)
}

// R2Client implements ResultArchive on Cloudflare R2
type R2Client struct {
	s3Client   *s3.Client
	bucketName string
	publicURL  string
}

// NewR2Client creates a new R2 archive client
func NewR2Client(cfg *config.R2Config) (*R2Client, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("R2 configuration incomplete")
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &R2Client{
		s3Client:   s3Client,
		bucketName: cfg.BucketName,
		publicURL:  cfg.PublicURL,
	}, nil
}

// Archive stores a job output under results/<user>/<kind>/<job>.<ext> and
// returns its public URL
func (c *R2Client) Archive(ctx context.Context, userID string, job *model.Job, media *model.Media) (string, error) {
	key := ArchiveKey(userID, job, media)
	input := &s3.PutObjectInput{
		Bucket:       aws.String(c.bucketName),
		Key:          aws.String(key),
		Body:         bytes.NewReader(media.Data),
		ContentType:  aws.String(media.ContentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
		Metadata: map[string]string{
			"user-id":  userID,
			"job-id":   job.ID,
			"job-kind": string(job.Kind),
		},
	}

	if _, err := c.s3Client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}

	return c.GetPublicURL(key), nil
}

// GetPublicURL returns the public CDN URL for a key
func (c *R2Client) GetPublicURL(key string) string {
	if c.publicURL != "" {
		return fmt.Sprintf("%s/%s", c.publicURL, key)
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com/%s", c.bucketName, key)
}

// ArchiveKey builds the object key for a job output
func ArchiveKey(userID string, job *model.Job, media *model.Media) string {
	ext := media.Extension()
	if job.Kind == model.JobKindVideo {
		ext = "mp4"
	}
	return path.Join("results", userID, string(job.Kind), job.ID+"."+ext)
}
