// Package awsutil loads AWS configuration and the clients built from it.
package awsutil

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Load loads the AWS configuration, using a custom endpoint if AWS_ENDPOINT_URL is set.
// The endpoint is returned so callers can switch to LocalStack-friendly options.
func Load(ctx context.Context, region string) (aws.Config, string, error) {
	endpoint := os.Getenv("AWS_ENDPOINT_URL") // e.g., http://localstack:4566
	if endpoint == "" {
		cfg, err := awsCfg.LoadDefaultConfig(ctx, awsCfg.WithRegion(region))
		return cfg, "", err
	}
	cfg, err := awsCfg.LoadDefaultConfig(ctx, awsCfg.WithRegion(region), awsCfg.WithBaseEndpoint(endpoint))
	return cfg, endpoint, err
}

// S3 builds an S3 client. Path-style addressing is used when a custom
// endpoint is set.
func S3(cfg aws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.UsePathStyle = true
		}
	})
}
