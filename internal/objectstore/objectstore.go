// Package objectstore uploads finished analysis reports to an
// S3-compatible bucket (Cloudflare R2 in production) and hands back the
// public URL the article's r2_url field records.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client wraps a bucket and its public base URL.
type Client struct {
	s3         *s3.Client
	bucket     string
	publicBase string
}

// New builds a Client against an R2-compatible custom endpoint,
// authenticated with a static access key pair rather than the default AWS
// credential chain.
func New(ctx context.Context, endpoint, region, bucket, accessKeyID, secretAccessKey, publicBase string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading object store config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	return &Client{s3: client, bucket: bucket, publicBase: strings.TrimSuffix(publicBase, "/")}, nil
}

// UploadReport puts the final analysis JSON for articleID under
// "reports/<id>.json" and returns its public URL.
func (c *Client) UploadReport(ctx context.Context, articleID int64, reportJSON []byte) (string, error) {
	key := fmt.Sprintf("reports/%d.json", articleID)
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(reportJSON),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading report %d: %w", articleID, err)
	}
	return fmt.Sprintf("%s/%s", c.publicBase, key), nil
}
