// Package main is the Lambda behind the agent registration form.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/kylejryan/claims-agent-portal/internal/agents"
	"github.com/kylejryan/claims-agent-portal/internal/api"
	"github.com/kylejryan/claims-agent-portal/internal/apperror"
	"github.com/kylejryan/claims-agent-portal/internal/awsutil"
	"github.com/kylejryan/claims-agent-portal/internal/codegen"
	"github.com/kylejryan/claims-agent-portal/internal/config"
	"github.com/kylejryan/claims-agent-portal/internal/ddb"
	"github.com/kylejryan/claims-agent-portal/internal/httpx"
	"github.com/kylejryan/claims-agent-portal/internal/logger"
	"github.com/kylejryan/claims-agent-portal/internal/models"
	"github.com/kylejryan/claims-agent-portal/internal/validate"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// App holds the application state, including configuration and AWS clients.
type App struct {
	log    *zap.Logger
	agents *agents.Service
}

func main() {
	env := config.LoadLambda()
	zl := logger.New(env.Env)
	cfg, endpoint, err := awsutil.Load(context.Background(), env.Region)
	if err != nil {
		log.Fatal(err)
	}

	store := &ddb.Store{DB: dynamodb.NewFromConfig(cfg), Table: env.Table}
	var uploads agents.Uploads
	if env.Bucket != "" {
		s3c := awsutil.S3(cfg, endpoint)
		uploads = agents.Uploads{Presigner: s3.NewPresignClient(s3c), Bucket: env.Bucket, TTL: env.PresignTTL}
	}

	gen := codegen.New(store, zl, codegen.WithMaxAttempts(env.CodeMaxAttempts))
	app := &App{
		log:    zl,
		agents: agents.NewService(store, gen, validate.New(), uploads, zl),
	}
	lambda.Start(app.handler)
}

// handler registers the agent described by the request body.
func (a *App) handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	var reg models.Registration
	if err := json.Unmarshal([]byte(req.Body), &reg); err != nil {
		return httpx.Error(http.StatusBadRequest, "invalid json")
	}

	created, err := a.agents.Create(ctx, reg)
	switch {
	case err == nil:
	case apperror.IsValidation(err):
		return httpx.JSON(http.StatusBadRequest, apperror.CustomValidationError(err))
	case errors.Is(err, codegen.ErrCodespaceExhausted):
		return httpx.Error(http.StatusServiceUnavailable, "no agent code available")
	default:
		a.log.Error("create agent failed", zap.Error(err))
		return httpx.Error(http.StatusInternalServerError, "db error")
	}

	return httpx.JSON(http.StatusCreated, api.CreateAgentResponse{Code: created.Code, Upload: created.Upload})
}
