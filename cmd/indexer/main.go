// Package main attaches uploaded profile images to their agent after S3 PUT.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/kylejryan/claims-agent-portal/internal/agents"
	"github.com/kylejryan/claims-agent-portal/internal/awsutil"
	"github.com/kylejryan/claims-agent-portal/internal/codegen"
	"github.com/kylejryan/claims-agent-portal/internal/config"
	"github.com/kylejryan/claims-agent-portal/internal/ddb"
	"github.com/kylejryan/claims-agent-portal/internal/logger"
	"github.com/kylejryan/claims-agent-portal/internal/s3io"
	"github.com/kylejryan/claims-agent-portal/internal/validate"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// objectAPI is the slice of the S3 client the indexer uses.
type objectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// imageConfirmer attaches a stored image to an agent record.
type imageConfirmer interface {
	ConfirmImage(ctx context.Context, code string, ref s3io.Ref, contentType string, size int64) error
}

// App holds the application state, including configuration and AWS clients.
type App struct {
	log    *zap.Logger
	s3c    objectAPI
	agents imageConfirmer
}

// main initializes the app and starts the Lambda handler.
func main() {
	env := config.LoadLambda()
	zl := logger.New(env.Env)
	cfg, endpoint, err := awsutil.Load(context.Background(), env.Region)
	if err != nil {
		log.Fatal(err)
	}

	store := &ddb.Store{DB: dynamodb.NewFromConfig(cfg), Table: env.Table}
	gen := codegen.New(store, zl)
	app := &App{
		log:    zl,
		s3c:    awsutil.S3(cfg, endpoint),
		agents: agents.NewService(store, gen, validate.New(), agents.Uploads{}, zl),
	}
	lambda.Start(app.handler)
}

// handler processes S3 event records. A failing record is logged and
// does not stop the others.
func (a *App) handler(ctx context.Context, ev events.S3Event) (any, error) {
	for _, rec := range ev.Records {
		if err := a.processS3Record(ctx, rec); err != nil {
			a.log.Error("indexer: process error", zap.String("key", rec.S3.Object.Key), zap.Error(err))
		}
	}
	return nil, nil
}

// processS3Record handles a single S3 event record.
func (a *App) processS3Record(ctx context.Context, record events.S3EventRecord) error {
	bucket := record.S3.Bucket.Name
	key, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		return fmt.Errorf("bad key %q: %w", record.S3.Object.Key, err)
	}

	code, ok := s3io.ParseProfileImageKey(key)
	if !ok {
		a.log.Debug("indexer: skipping object", zap.String("key", key))
		return nil
	}

	meta, err := a.getObjectMetadata(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("head %s: %w", key, err)
	}
	// Prefer the code stamped at presign time; the key is the fallback.
	if c := strings.TrimSpace(meta.Meta["agent_code"]); c != "" && c != code {
		if verr := validate.AgentCode(c); verr != nil {
			a.log.Warn("indexer: ignoring malformed agent_code metadata", zap.String("key", key), zap.String("agent_code", c))
		} else {
			a.log.Warn("indexer: metadata code differs from key", zap.String("key", key), zap.String("agent_code", c))
			code = c
		}
	}

	ref := s3io.Ref{Bucket: bucket, Key: key}
	err = a.agents.ConfirmImage(ctx, code, ref, meta.ContentType, meta.Size)
	if errors.Is(err, agents.ErrImageRejected) {
		a.log.Warn("indexer: rejecting upload", zap.String("key", key), zap.Error(err))
		if _, derr := a.s3c.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &key}); derr != nil {
			return fmt.Errorf("delete %s: %w", key, derr)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("confirm %s: %w", code, err)
	}

	a.log.Info("indexer: profile image attached",
		zap.String("code", code), zap.Int64("size", meta.Size), zap.String("etag", meta.ETag))
	return nil
}

// objectMetadata holds S3 object metadata and user-defined metadata.
type objectMetadata struct {
	Size        int64
	ETag        string
	ContentType string
	Meta        map[string]string // lowercased user metadata
}

// getObjectMetadata fetches S3 object metadata including user-defined metadata.
func (a *App) getObjectMetadata(ctx context.Context, bucket, key string) (*objectMetadata, error) {
	ho, err := a.s3c.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, err
	}

	m := &objectMetadata{
		Meta: make(map[string]string, len(ho.Metadata)),
	}
	if ho.ContentLength != nil {
		m.Size = *ho.ContentLength
	}
	if ho.ETag != nil {
		m.ETag = strings.Trim(*ho.ETag, "\"")
	}
	if ho.ContentType != nil {
		m.ContentType = strings.ToLower(*ho.ContentType)
	}
	for k, v := range ho.Metadata {
		m.Meta[strings.ToLower(k)] = v
	}
	return m, nil
}
