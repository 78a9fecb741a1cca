// Package s3io provides utilities for working with S3, including presigning URLs.
package s3io

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Presigner defines the interface for presigning S3 requests.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// PresignPut generates a presigned URL for uploading an object to S3 with the specified parameters.
func PresignPut(ctx context.Context, p Presigner, bucket, key, contentType string, meta map[string]string, ttl time.Duration) (string, time.Duration, error) {
	input := &s3.PutObjectInput{
		Bucket:               aws.String(bucket),
		Key:                  aws.String(key),
		ContentType:          aws.String(contentType),
		Metadata:             meta,
		ServerSideEncryption: types.ServerSideEncryptionAwsKms,
	}

	req, err := p.PresignPutObject(ctx, input, func(o *s3.PresignOptions) { o.Expires = ttl })
	if err != nil {
		return "", 0, err
	}
	return req.URL, ttl, nil
}

// PresignGet generates a time-limited download URL for an object.
func PresignGet(ctx context.Context, p Presigner, ref Ref, ttl time.Duration) (string, error) {
	req, err := p.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	}, func(o *s3.PresignOptions) { o.Expires = ttl })
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// Linker turns stored document references into links a browser can open.
type Linker struct {
	P   Presigner
	TTL time.Duration
}

// Link presigns s3:// references and passes every other URL through unchanged.
// A nil Linker passes everything through.
func (l *Linker) Link(ctx context.Context, raw string) (string, error) {
	ref, ok := ParseRef(raw)
	if !ok || l == nil || l.P == nil {
		return raw, nil
	}
	return PresignGet(ctx, l.P, ref, l.TTL)
}
