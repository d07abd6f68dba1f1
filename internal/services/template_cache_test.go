package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemplates(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	docx := filepath.Join(dir, "application_template.docx")
	pdf := filepath.Join(dir, "application_template.pdf")
	if err := os.WriteFile(docx, []byte("docx template"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := os.WriteFile(pdf, []byte("pdf template"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	t.Setenv("TEMPLATE_PATHS", docx+","+pdf)
	return docx, pdf
}

func TestTemplateHandles_UploadsOnceThenServesFromCache(t *testing.T) {
	writeTemplates(t)
	gateway := &fakeGateway{configured: true}
	svc := NewTemplateCacheService(testLogger(t), gateway, NewMemoryTemplateStore())

	first := svc.TemplateHandles(context.Background())
	if len(first) != 2 {
		t.Fatalf("expected 2 handles, got %v", first)
	}
	if len(gateway.uploaded) != 2 {
		t.Fatalf("expected 2 uploads, got %v", gateway.uploaded)
	}

	second := svc.TemplateHandles(context.Background())
	if len(second) != 2 {
		t.Fatalf("expected cached handles, got %v", second)
	}
	if len(gateway.uploaded) != 2 {
		t.Fatalf("expected no re-upload on cache hit, got %v", gateway.uploaded)
	}
}

func TestTemplateHandles_FingerprintChangeForcesReupload(t *testing.T) {
	docx, _ := writeTemplates(t)
	gateway := &fakeGateway{configured: true}
	svc := NewTemplateCacheService(testLogger(t), gateway, NewMemoryTemplateStore())

	svc.TemplateHandles(context.Background())
	if err := os.WriteFile(docx, []byte("docx template with more content"), 0o644); err != nil {
		t.Fatalf("rewrite template: %v", err)
	}

	svc.TemplateHandles(context.Background())
	if len(gateway.uploaded) != 4 {
		t.Fatalf("expected re-upload after template edit, got %d uploads", len(gateway.uploaded))
	}
}

func TestTemplateHandles_NilWhenGatewayUnconfigured(t *testing.T) {
	writeTemplates(t)
	svc := NewTemplateCacheService(testLogger(t), &fakeGateway{configured: false}, NewMemoryTemplateStore())
	if out := svc.TemplateHandles(context.Background()); out != nil {
		t.Fatalf("expected nil handles, got %v", out)
	}
}

func TestTemplateHandles_NilWhenTemplatesMissing(t *testing.T) {
	t.Setenv("TEMPLATE_PATHS", filepath.Join(t.TempDir(), "absent.docx"))
	gateway := &fakeGateway{configured: true}
	svc := NewTemplateCacheService(testLogger(t), gateway, NewMemoryTemplateStore())
	if out := svc.TemplateHandles(context.Background()); out != nil {
		t.Fatalf("expected nil handles, got %v", out)
	}
	if len(gateway.uploaded) != 0 {
		t.Fatalf("expected no uploads, got %v", gateway.uploaded)
	}
}

func TestMemoryTemplateStore_ExpiresEntries(t *testing.T) {
	store := NewMemoryTemplateStore()
	store.Set(context.Background(), "k", []string{"a"}, 10*time.Millisecond)
	if ids, ok := store.Get(context.Background(), "k"); !ok || len(ids) != 1 {
		t.Fatalf("expected fresh entry, got %v ok=%v", ids, ok)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := store.Get(context.Background(), "k"); ok {
		t.Fatalf("expected entry expired")
	}
}
