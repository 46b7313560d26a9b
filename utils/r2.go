// utils/r2.go
package utils

import (
	"context"
	"fmt"
	"io"

	appconfig "participation-points/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectGetter is the slice of the S3 API used to read configuration objects.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewR2Client returns an S3 client pointed at the Cloudflare R2 endpoint for the account.
func NewR2Client(ctx context.Context, cfg appconfig.R2Config) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	}), nil
}

// maxConfigObjectBytes caps configuration objects read from R2.
const maxConfigObjectBytes = 1 << 20

// FetchR2Object downloads a small object (e.g. the reward catalog) from the bucket.
func FetchR2Object(ctx context.Context, client ObjectGetter, bucket, key string) ([]byte, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from R2: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxConfigObjectBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from R2: %w", key, err)
	}
	if len(data) > maxConfigObjectBytes {
		return nil, fmt.Errorf("object %s exceeds %d bytes", key, maxConfigObjectBytes)
	}
	return data, nil
}
