package services

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/shinyadventure/coverletter-backend/internal/platform/logger"
	"github.com/shinyadventure/coverletter-backend/internal/platform/openai"
	"github.com/shinyadventure/coverletter-backend/internal/repos"
	"github.com/shinyadventure/coverletter-backend/internal/types"
)

const (
	maxNameLen   = 255
	maxNotesLen  = 5000
	maxImageSize = 4 << 20
	maxFileSize  = 8 << 20
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidationError carries a field-level rejection; handlers map it to 422.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) HTTPStatusCode() int { return 422 }

// NotFoundError marks a lookup miss; handlers map it to 404.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string       { return e.What + " not found" }
func (e *NotFoundError) HTTPStatusCode() int { return 404 }

type UploadInput struct {
	Filename string
	Size     int64
	Reader   io.Reader
}

type SubmitInput struct {
	Name        string
	Email       string
	Notes       string
	AmountCents int
	Images      []UploadInput
	Files       []UploadInput
}

type ApplicationService interface {
	Submit(ctx context.Context, in SubmitInput) (*types.Application, error)
	Get(ctx context.Context, id uuid.UUID) (*types.Application, error)
	List(ctx context.Context, limit, offset int) ([]*types.Application, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// DownloadPath resolves a generated artifact kind (txt, docx or pdf) to
	// its absolute path and a download filename.
	DownloadPath(ctx context.Context, id uuid.UUID, kind string) (string, string, error)
}

type applicationService struct {
	log     *logger.Logger
	repo    repos.ApplicationRepo
	storage StorageService
	gateway openai.Client
}

func NewApplicationService(
	baseLog *logger.Logger,
	repo repos.ApplicationRepo,
	storage StorageService,
	gateway openai.Client,
) ApplicationService {
	return &applicationService{
		log:     baseLog.With("service", "ApplicationService"),
		repo:    repo,
		storage: storage,
		gateway: gateway,
	}
}

func validateSubmit(in SubmitInput) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if len(name) > maxNameLen {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("longer than %d characters", maxNameLen)}
	}
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return &ValidationError{Field: "email", Reason: "required"}
	}
	if !emailPattern.MatchString(email) {
		return &ValidationError{Field: "email", Reason: "not a valid address"}
	}
	if len(in.Notes) > maxNotesLen {
		return &ValidationError{Field: "notes", Reason: fmt.Sprintf("longer than %d characters", maxNotesLen)}
	}
	if in.AmountCents < 0 {
		return &ValidationError{Field: "amount_cents", Reason: "must not be negative"}
	}
	for _, img := range in.Images {
		if img.Size > maxImageSize {
			return &ValidationError{Field: "images", Reason: fmt.Sprintf("%s exceeds %d bytes", img.Filename, maxImageSize)}
		}
	}
	for _, f := range in.Files {
		if f.Size > maxFileSize {
			return &ValidationError{Field: "files", Reason: fmt.Sprintf("%s exceeds %d bytes", f.Filename, maxFileSize)}
		}
	}
	return nil
}

func (s *applicationService) Submit(ctx context.Context, in SubmitInput) (*types.Application, error) {
	if err := validateSubmit(in); err != nil {
		return nil, err
	}

	meta := map[string]any{}
	var fileRels, imageRels []string
	for _, f := range in.Files {
		rel, err := s.storage.Store(ctx, "uploads/files", f.Filename, f.Reader)
		if err != nil {
			s.cleanupRels(ctx, append(fileRels, imageRels...))
			return nil, fmt.Errorf("store file %s: %w", f.Filename, err)
		}
		fileRels = append(fileRels, rel)
	}
	for _, img := range in.Images {
		rel, err := s.storage.Store(ctx, "uploads/images", img.Filename, img.Reader)
		if err != nil {
			s.cleanupRels(ctx, append(fileRels, imageRels...))
			return nil, fmt.Errorf("store image %s: %w", img.Filename, err)
		}
		imageRels = append(imageRels, rel)
	}
	if len(fileRels) > 0 {
		meta[metaKeyFiles] = fileRels
	}
	if len(imageRels) > 0 {
		meta[metaKeyImages] = imageRels
	}

	app := &types.Application{
		Name:        strings.TrimSpace(in.Name),
		Email:       strings.TrimSpace(in.Email),
		Notes:       in.Notes,
		AmountCents: in.AmountCents,
		Status:      types.ApplicationStatusPending,
		Meta:        encodeMeta(meta),
	}
	created, err := s.repo.Create(ctx, nil, app)
	if err != nil {
		s.cleanupRels(ctx, append(fileRels, imageRels...))
		return nil, fmt.Errorf("create application: %w", err)
	}

	s.log.Info("Application submitted",
		"application_id", created.ID,
		"files", len(fileRels),
		"images", len(imageRels),
	)
	return created, nil
}

func (s *applicationService) Get(ctx context.Context, id uuid.UUID) (*types.Application, error) {
	app, err := s.repo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, &NotFoundError{What: "application"}
	}
	return app, nil
}

func (s *applicationService) List(ctx context.Context, limit, offset int) ([]*types.Application, error) {
	return s.repo.List(ctx, nil, limit, offset)
}

// Delete removes the record together with its local files and, best effort,
// the remote thread and artifact files it references. Remote failures are
// logged and never block the local deletion.
func (s *applicationService) Delete(ctx context.Context, id uuid.UUID) error {
	app, err := s.repo.GetByID(ctx, nil, id)
	if err != nil {
		return err
	}
	if app == nil {
		return &NotFoundError{What: "application"}
	}

	meta := decodeMeta(app)
	if s.gateway != nil && s.gateway.Configured() {
		oa := metaOpenAI(meta)
		if threadID := metaString(oa, metaKeyThreadID); threadID != "" {
			if err := s.gateway.DeleteThread(ctx, threadID); err != nil {
				s.log.Warn("Remote thread cleanup failed", "thread_id", threadID, "error", err)
			}
		}
		for _, fileID := range metaStringSlice(oa, metaKeyFileIDs) {
			if err := s.gateway.DeleteFile(ctx, fileID); err != nil {
				s.log.Warn("Remote file cleanup failed", "file_id", fileID, "error", err)
			}
		}
	}

	var rels []string
	rels = append(rels, metaStringSlice(meta, metaKeyFiles)...)
	rels = append(rels, metaStringSlice(meta, metaKeyImages)...)
	rels = append(rels, app.TxtPath, app.DocxPath, metaString(meta, metaKeyPDFRel))
	s.cleanupRels(ctx, rels)

	if err := s.repo.FullDeleteByID(ctx, nil, id); err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	s.log.Info("Application deleted", "application_id", id)
	return nil
}

func (s *applicationService) DownloadPath(ctx context.Context, id uuid.UUID, kind string) (string, string, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return "", "", err
	}
	if app.Status != types.ApplicationStatusReady {
		return "", "", &ValidationError{Field: "status", Reason: "application is not ready"}
	}

	var rel string
	switch kind {
	case "txt":
		rel = app.TxtPath
	case "docx":
		rel = app.DocxPath
	case "pdf":
		rel = metaString(decodeMeta(app), metaKeyPDFRel)
	default:
		return "", "", &ValidationError{Field: "kind", Reason: "must be txt, docx or pdf"}
	}
	if rel == "" {
		return "", "", &NotFoundError{What: kind + " artifact"}
	}
	return s.storage.Path(rel), filepath.Base(rel), nil
}

func (s *applicationService) cleanupRels(ctx context.Context, rels []string) {
	for _, rel := range rels {
		if rel == "" {
			continue
		}
		if err := s.storage.Delete(ctx, rel); err != nil {
			s.log.Warn("Local file cleanup failed", "relative", rel, "error", err)
		}
	}
}
