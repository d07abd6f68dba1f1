package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/shinyadventure/coverletter-backend/internal/platform/envutil"
	"github.com/shinyadventure/coverletter-backend/internal/platform/logger"
	"github.com/shinyadventure/coverletter-backend/internal/platform/openai"
)

// TemplateCacheService memoizes the remote file handles of the static letter
// templates so they are not re-uploaded on every request. The cache key is a
// fingerprint of each template's name, size and mtime; editing or replacing a
// template changes the fingerprint and forces a fresh upload.
type TemplateCacheService interface {
	TemplateHandles(ctx context.Context) []string
}

// TemplateHandleStore is the cache backend. Two implementations exist: redis
// (shared across replicas) and an in-process map. A racing populate may
// upload the same templates twice; the cost is bounded and the result
// idempotent, so no cross-populate locking is attempted.
type TemplateHandleStore interface {
	Get(ctx context.Context, key string) ([]string, bool)
	Set(ctx context.Context, key string, ids []string, ttl time.Duration)
}

type templateCacheService struct {
	log           *logger.Logger
	gateway       openai.Client
	store         TemplateHandleStore
	templatePaths []string
	ttl           time.Duration
}

func NewTemplateCacheService(log *logger.Logger, gateway openai.Client, store TemplateHandleStore) TemplateCacheService {
	serviceLog := log.With("service", "TemplateCacheService")
	raw := envutil.Str("TEMPLATE_PATHS", "doc/application_template.docx,doc/application_template.pdf")
	var paths []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			paths = append(paths, p)
		}
	}
	if store == nil {
		store = NewMemoryTemplateStore()
	}
	return &templateCacheService{
		log:           serviceLog,
		gateway:       gateway,
		store:         store,
		templatePaths: paths,
		ttl:           envutil.DurationSeconds("TEMPLATE_CACHE_TTL_SECONDS", 6*time.Hour),
	}
}

func (s *templateCacheService) TemplateHandles(ctx context.Context) []string {
	if s.gateway == nil || !s.gateway.Configured() {
		return nil
	}

	existing, fingerprint := fingerprintTemplates(s.templatePaths)
	if len(existing) == 0 {
		return nil
	}

	key := "openai_template_file_ids_" + fingerprint
	if ids, ok := s.store.Get(ctx, key); ok {
		return ids
	}

	ids := make([]string, 0, len(existing))
	for _, abs := range existing {
		data, err := os.ReadFile(abs)
		if err != nil {
			s.log.Warn("Template read failed", "path", abs, "error", err)
			continue
		}
		id, err := s.gateway.UploadFile(ctx, data, filepath.Base(abs))
		if err != nil {
			s.log.Warn("Template upload failed", "path", abs, "error", err)
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		s.store.Set(ctx, key, ids, s.ttl)
	}
	return ids
}

// fingerprintTemplates returns the template paths that exist on disk and the
// sha1 fingerprint over their name|size|mtime triples.
func fingerprintTemplates(paths []string) ([]string, string) {
	var existing []string
	var parts []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		existing = append(existing, p)
		parts = append(parts, fmt.Sprintf("%s|%d|%d", filepath.Base(p), info.Size(), info.ModTime().Unix()))
	}
	if len(existing) == 0 {
		return nil, ""
	}
	sum := sha1.Sum([]byte(strings.Join(parts, ";")))
	return existing, hex.EncodeToString(sum[:])
}

// --- in-process store ---

type memoryTemplateStore struct {
	mu      sync.RWMutex
	entries map[string]memoryTemplateEntry
}

type memoryTemplateEntry struct {
	ids       []string
	expiresAt time.Time
}

func NewMemoryTemplateStore() TemplateHandleStore {
	return &memoryTemplateStore{entries: map[string]memoryTemplateEntry{}}
}

func (m *memoryTemplateStore) Get(ctx context.Context, key string) ([]string, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.ids, true
}

func (m *memoryTemplateStore) Set(ctx context.Context, key string, ids []string, ttl time.Duration) {
	m.mu.Lock()
	m.entries[key] = memoryTemplateEntry{ids: ids, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
}

// --- redis store ---

type redisTemplateStore struct {
	log *logger.Logger
	rdb *goredis.Client
}

// NewRedisTemplateStore connects to REDIS_ADDR; callers fall back to the
// in-process store when the env var is absent or the ping fails.
func NewRedisTemplateStore(log *logger.Logger) (TemplateHandleStore, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisTemplateStore{
		log: log.With("service", "RedisTemplateStore"),
		rdb: rdb,
	}, nil
}

func (r *redisTemplateStore) Get(ctx context.Context, key string) ([]string, bool) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false
	}
	return ids, true
}

func (r *redisTemplateStore) Set(ctx context.Context, key string, ids []string, ttl time.Duration) {
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		r.log.Warn("Template cache write failed", "key", key, "error", err)
	}
}
