// Package agents registers new insurance agents and recovers forgotten agent codes.
package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kylejryan/claims-agent-portal/internal/api"
	"github.com/kylejryan/claims-agent-portal/internal/codegen"
	"github.com/kylejryan/claims-agent-portal/internal/models"
	"github.com/kylejryan/claims-agent-portal/internal/rtdb"
	"github.com/kylejryan/claims-agent-portal/internal/s3io"
	"github.com/kylejryan/claims-agent-portal/internal/validate"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	// ErrAgentNotFound is returned by ForgotCode when no agent uses the email.
	ErrAgentNotFound = errors.New("no agent found for this email")
	// ErrImageRejected is returned by ConfirmImage for uploads that may not
	// be attached to the agent.
	ErrImageRejected = errors.New("profile image rejected")
)

// MaxImageBytes caps the size of an uploaded profile image.
const MaxImageBytes = 5 << 20

// CodeGenerator hands out unused agent codes.
type CodeGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// Uploads configures presigned profile image uploads. A zero value
// disables them.
type Uploads struct {
	Presigner s3io.Presigner
	Bucket    string
	TTL       time.Duration
}

func (u Uploads) enabled() bool {
	return u.Presigner != nil && u.Bucket != ""
}

// Service writes and looks up agent records.
type Service struct {
	store    rtdb.Store
	codes    CodeGenerator
	validate *validator.Validate
	uploads  Uploads
	log      *zap.Logger
	now      func() time.Time
}

// NewService builds a Service.
func NewService(store rtdb.Store, codes CodeGenerator, v *validator.Validate, uploads Uploads, log *zap.Logger) *Service {
	return &Service{
		store:    store,
		codes:    codes,
		validate: v,
		uploads:  uploads,
		log:      log,
		now:      time.Now,
	}
}

// Created is the outcome of a registration.
type Created struct {
	Code   string
	Agent  models.Agent
	Upload *api.ImageUpload
}

// Create validates the form, allocates a code and stores the agent under Agents/{code}.
// Validation failures are returned as validator.ValidationErrors.
func (s *Service) Create(ctx context.Context, reg models.Registration) (Created, error) {
	reg = trimRegistration(reg)
	if err := s.validate.Struct(reg); err != nil {
		return Created{}, err
	}

	code, err := s.codes.Generate(ctx)
	if err != nil {
		return Created{}, fmt.Errorf("allocate agent code: %w", err)
	}

	agent := models.Agent{
		Name:       reg.FirstName,
		Surname:    reg.LastName,
		Email:      reg.Email,
		Phone:      reg.Phone,
		Registered: false,
		Timestamp:  s.now().UnixMilli(),
	}

	var upload *api.ImageUpload
	if reg.ImageContentType != "" && s.uploads.enabled() {
		upload, agent.Image, err = s.presignImage(ctx, code, reg.ImageContentType)
		if err != nil {
			return Created{}, err
		}
	}

	path := rtdb.Join(codegen.AgentsRoot, code)
	if err := s.store.Set(ctx, path, agent); err != nil {
		s.log.Error("agent write failed", zap.String("path", path), zap.Error(err))
		return Created{}, fmt.Errorf("write %s: %w", path, err)
	}
	s.log.Info("agent registered", zap.String("code", code), zap.Bool("image", agent.Image != ""))
	return Created{Code: code, Agent: agent, Upload: upload}, nil
}

func (s *Service) presignImage(ctx context.Context, code, contentType string) (*api.ImageUpload, string, error) {
	key, err := s3io.ProfileImageKey(code, contentType)
	if err != nil {
		return nil, "", err
	}
	meta := map[string]string{"agent_code": code}
	url, ttl, err := s3io.PresignPut(ctx, s.uploads.Presigner, s.uploads.Bucket, key, contentType, meta, s.uploads.TTL)
	if err != nil {
		s.log.Error("presign profile image failed", zap.String("key", key), zap.Error(err))
		return nil, "", fmt.Errorf("presign profile image: %w", err)
	}
	ref := s3io.Ref{Bucket: s.uploads.Bucket, Key: key}
	return &api.ImageUpload{
		URL:       url,
		Headers:   s3io.UploadHeaders(code, contentType),
		ExpiresIn: int(ttl.Seconds()),
	}, ref.String(), nil
}

// ForgotCode returns the code of the agent registered with email.
// When several agents share the address the lowest code wins.
func (s *Service) ForgotCode(ctx context.Context, rec models.Recovery) (string, error) {
	rec.Email = strings.TrimSpace(rec.Email)
	if err := s.validate.Struct(rec); err != nil {
		return "", err
	}
	snap, err := s.store.QueryByField(ctx, codegen.AgentsRoot, "email", rec.Email)
	if err != nil {
		s.log.Error("agent lookup failed", zap.String("path", codegen.AgentsRoot), zap.Error(err))
		return "", fmt.Errorf("query %s: %w", codegen.AgentsRoot, err)
	}
	keys := snap.Keys()
	if len(keys) == 0 {
		return "", ErrAgentNotFound
	}
	return keys[0], nil
}

func trimRegistration(r models.Registration) models.Registration {
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Email = strings.TrimSpace(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
	r.ImageContentType = strings.ToLower(strings.TrimSpace(r.ImageContentType))
	return r
}

// ConfirmImage attaches an uploaded profile image to Agents/{code}.
// Malformed codes, unknown agents, wrong content types and oversized
// files are rejected.
func (s *Service) ConfirmImage(ctx context.Context, code string, ref s3io.Ref, contentType string, size int64) error {
	if err := validate.AgentCode(code); err != nil {
		return fmt.Errorf("%w: %v", ErrImageRejected, err)
	}
	path := rtdb.Join(codegen.AgentsRoot, code)
	snap, err := s.store.Get(ctx, path)
	if err != nil {
		s.log.Error("agent read failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("read %s: %w", path, err)
	}
	switch {
	case !snap.Exists():
		return fmt.Errorf("%w: no agent %s", ErrImageRejected, code)
	case validate.ImageContentType(contentType) != nil:
		return fmt.Errorf("%w: content type %q", ErrImageRejected, contentType)
	case size <= 0 || size > MaxImageBytes:
		return fmt.Errorf("%w: size %d", ErrImageRejected, size)
	}

	imgPath := rtdb.Join(path, "image")
	if err := s.store.Set(ctx, imgPath, ref.String()); err != nil {
		s.log.Error("agent image write failed", zap.String("path", imgPath), zap.Error(err))
		return fmt.Errorf("write %s: %w", imgPath, err)
	}
	s.log.Info("profile image attached", zap.String("code", code), zap.Int64("size", size))
	return nil
}
