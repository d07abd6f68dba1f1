package services

import (
  "context"
  "fmt"
  "io"
  "os"
  "path/filepath"
  "strings"
  "github.com/google/uuid"
  "github.com/shinyadventure/coverletter-backend/internal/platform/envutil"
  "github.com/shinyadventure/coverletter-backend/internal/platform/logger"
)

// StorageService is the public-disk collaborator: uploaded assets and
// generated artifacts live under one local root, addressed by relative keys,
// and are served/attached from their absolute paths.
type StorageService interface {
  Store(ctx context.Context, namespace string, filename string, r io.Reader) (string, error)
  Put(ctx context.Context, relative string, data []byte) error
  Path(relative string) string
  URL(relative string) string
  Delete(ctx context.Context, relative string) error
  Root() string
}

type storageService struct {
  log     *logger.Logger
  root    string
  baseURL string
}

func NewStorageService(log *logger.Logger) (StorageService, error) {
  serviceLog := log.With("service", "StorageService")
  root := envutil.Str("STORAGE_ROOT", "storage/public")
  baseURL := strings.TrimRight(envutil.Str("PUBLIC_BASE_URL", "http://localhost:8080/storage"), "/")
  if err := os.MkdirAll(root, 0o755); err != nil {
    return nil, fmt.Errorf("create storage root %q: %w", root, err)
  }
  return &storageService{log: serviceLog, root: root, baseURL: baseURL}, nil
}

func (s *storageService) Store(ctx context.Context, namespace string, filename string, r io.Reader) (string, error) {
  if r == nil {
    return "", fmt.Errorf("nil reader")
  }
  name := sanitizeFilename(filename)
  relative := filepath.ToSlash(filepath.Join(namespace, uuid.New().String()+"_"+name))
  abs := s.Path(relative)
  if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
    return "", err
  }
  f, err := os.Create(abs)
  if err != nil {
    return "", err
  }
  if _, err := io.Copy(f, r); err != nil {
    _ = f.Close()
    _ = os.Remove(abs)
    return "", err
  }
  if err := f.Close(); err != nil {
    return "", err
  }
  return relative, nil
}

func (s *storageService) Put(ctx context.Context, relative string, data []byte) error {
  abs := s.Path(relative)
  if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
    return err
  }
  return os.WriteFile(abs, data, 0o644)
}

func (s *storageService) Path(relative string) string {
  return filepath.Join(s.root, filepath.FromSlash(relative))
}

func (s *storageService) URL(relative string) string {
  return s.baseURL + "/" + strings.TrimLeft(filepath.ToSlash(relative), "/")
}

func (s *storageService) Delete(ctx context.Context, relative string) error {
  if strings.TrimSpace(relative) == "" {
    return nil
  }
  err := os.Remove(s.Path(relative))
  if err != nil && os.IsNotExist(err) {
    return nil
  }
  return err
}

func (s *storageService) Root() string { return s.root }

func sanitizeFilename(name string) string {
  name = filepath.Base(strings.TrimSpace(name))
  if name == "" || name == "." || name == string(filepath.Separator) {
    return "upload"
  }
  var b strings.Builder
  for _, r := range name {
    switch {
    case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
      b.WriteRune(r)
    case r == '.', r == '-', r == '_':
      b.WriteRune(r)
    default:
      b.WriteRune('_')
    }
  }
  return b.String()
}
