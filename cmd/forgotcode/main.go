// Package main is the Lambda that looks up a forgotten agent code by email.
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
	"github.com/kylejryan/claims-agent-portal/internal/config"
	"github.com/kylejryan/claims-agent-portal/internal/ddb"
	"github.com/kylejryan/claims-agent-portal/internal/httpx"
	"github.com/kylejryan/claims-agent-portal/internal/logger"
	"github.com/kylejryan/claims-agent-portal/internal/models"
	"github.com/kylejryan/claims-agent-portal/internal/validate"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// App holds the application state, including configuration and AWS clients.
type App struct {
	log    *zap.Logger
	agents *agents.Service
}

// handler answers {"email": ...} with the matching agent code.
func (a *App) handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	var rec models.Recovery
	if err := json.Unmarshal([]byte(req.Body), &rec); err != nil {
		return httpx.Error(http.StatusBadRequest, "invalid json")
	}
	code, err := a.agents.ForgotCode(ctx, rec)
	switch {
	case err == nil:
		return httpx.JSON(http.StatusOK, api.ForgotCodeResponse{Code: code})
	case apperror.IsValidation(err):
		return httpx.JSON(http.StatusBadRequest, apperror.CustomValidationError(err))
	case errors.Is(err, agents.ErrAgentNotFound):
		return httpx.Error(http.StatusNotFound, err.Error())
	default:
		a.log.Error("forgot code failed", zap.Error(err))
		return httpx.Error(http.StatusInternalServerError, "db error")
	}
}

// main initializes the application and starts the Lambda handler.
func main() {
	env := config.LoadLambda()
	zl := logger.New(env.Env)
	cfg, _, err := awsutil.Load(context.Background(), env.Region)
	if err != nil {
		log.Fatal(err)
	}
	store := &ddb.Store{DB: dynamodb.NewFromConfig(cfg), Table: env.Table}
	app := &App{log: zl, agents: agents.NewService(store, nil, validate.New(), agents.Uploads{}, zl)}
	lambda.Start(app.handler)
}
