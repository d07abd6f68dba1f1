package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/shinyadventure/coverletter-backend/internal/types"
)

func TestSubmit_RejectsInvalidInput(t *testing.T) {
	storage := testStorage(t)
	svc := NewApplicationService(testLogger(t), newFakeRepo(), storage, nil)

	cases := []struct {
		name  string
		in    SubmitInput
		field string
	}{
		{"missing name", SubmitInput{Email: "a@b.co"}, "name"},
		{"blank name", SubmitInput{Name: "   ", Email: "a@b.co"}, "name"},
		{"long name", SubmitInput{Name: strings.Repeat("x", maxNameLen+1), Email: "a@b.co"}, "name"},
		{"missing email", SubmitInput{Name: "Ada"}, "email"},
		{"bad email", SubmitInput{Name: "Ada", Email: "not-an-address"}, "email"},
		{"long notes", SubmitInput{Name: "Ada", Email: "a@b.co", Notes: strings.Repeat("x", maxNotesLen+1)}, "notes"},
		{"negative amount", SubmitInput{Name: "Ada", Email: "a@b.co", AmountCents: -1}, "amount_cents"},
		{"oversized image", SubmitInput{Name: "Ada", Email: "a@b.co", Images: []UploadInput{{Filename: "p.png", Size: maxImageSize + 1}}}, "images"},
		{"oversized file", SubmitInput{Name: "Ada", Email: "a@b.co", Files: []UploadInput{{Filename: "cv.pdf", Size: maxFileSize + 1}}}, "files"},
	}
	for _, tc := range cases {
		_, err := svc.Submit(context.Background(), tc.in)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
		if verr.Field != tc.field {
			t.Fatalf("%s: expected field %q got %q", tc.name, tc.field, verr.Field)
		}
		if verr.HTTPStatusCode() != 422 {
			t.Fatalf("%s: expected 422 got %d", tc.name, verr.HTTPStatusCode())
		}
	}
}

func TestSubmit_StoresUploadsAndCreatesPendingRecord(t *testing.T) {
	storage := testStorage(t)
	repo := newFakeRepo()
	svc := NewApplicationService(testLogger(t), repo, storage, nil)

	app, err := svc.Submit(context.Background(), SubmitInput{
		Name:        "  Ada Lovelace  ",
		Email:       "ada@example.com",
		Notes:       "analytical engines",
		AmountCents: 1500,
		Files:       []UploadInput{{Filename: "cv.txt", Size: 5, Reader: strings.NewReader("hello")}},
		Images:      []UploadInput{{Filename: "photo.png", Size: 3, Reader: strings.NewReader("img")}},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if app.Status != types.ApplicationStatusPending {
		t.Fatalf("expected status=pending got %q", app.Status)
	}
	if app.Name != "Ada Lovelace" {
		t.Fatalf("expected trimmed name, got %q", app.Name)
	}
	if app.AmountCents != 1500 {
		t.Fatalf("expected amount kept, got %d", app.AmountCents)
	}

	meta := decodeMeta(app)
	files := metaStringSlice(meta, metaKeyFiles)
	images := metaStringSlice(meta, metaKeyImages)
	if len(files) != 1 || len(images) != 1 {
		t.Fatalf("expected one file and one image rel, got %v / %v", files, images)
	}
	raw, err := os.ReadFile(storage.Path(files[0]))
	if err != nil || string(raw) != "hello" {
		t.Fatalf("expected stored file content, err=%v content=%q", err, raw)
	}
	if stored, _ := repo.GetByID(context.Background(), nil, app.ID); stored == nil {
		t.Fatalf("expected record persisted")
	}
}

func TestGet_UnknownIDReturnsNotFound(t *testing.T) {
	svc := NewApplicationService(testLogger(t), newFakeRepo(), testStorage(t), nil)
	_, err := svc.Get(context.Background(), uuid.New())
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
	if nf.HTTPStatusCode() != 404 {
		t.Fatalf("expected 404 got %d", nf.HTTPStatusCode())
	}
}

func TestDelete_CleansUpLocalAndRemoteState(t *testing.T) {
	storage := testStorage(t)
	app := processingApp(t, storage, map[string]string{"cv.txt": "hello"})
	app.Status = types.ApplicationStatusReady
	app.TxtPath = "generated/ada/application.txt"
	if err := storage.Put(context.Background(), app.TxtPath, []byte("letter")); err != nil {
		t.Fatalf("seed txt artifact: %v", err)
	}

	meta := decodeMeta(app)
	setMetaOpenAI(meta, metaKeyThreadID, "thread_9")
	setMetaOpenAI(meta, metaKeyFileIDs, []string{"file_a", "file_b"})
	app.Meta = encodeMeta(meta)

	repo := newFakeRepo(app)
	gateway := &fakeGateway{configured: true}
	svc := NewApplicationService(testLogger(t), repo, storage, gateway)

	fileRel := metaStringSlice(meta, metaKeyFiles)[0]
	if err := svc.Delete(context.Background(), app.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if len(gateway.deletedThreads) != 1 || gateway.deletedThreads[0] != "thread_9" {
		t.Fatalf("expected thread cleanup, got %v", gateway.deletedThreads)
	}
	if len(gateway.deletedFiles) != 2 {
		t.Fatalf("expected both remote files deleted, got %v", gateway.deletedFiles)
	}
	if _, err := os.Stat(storage.Path(fileRel)); !os.IsNotExist(err) {
		t.Fatalf("expected local upload removed, err=%v", err)
	}
	if _, err := os.Stat(storage.Path(app.TxtPath)); !os.IsNotExist(err) {
		t.Fatalf("expected txt artifact removed, err=%v", err)
	}
	if stored, _ := repo.GetByID(context.Background(), nil, app.ID); stored != nil {
		t.Fatalf("expected record gone")
	}
}

func TestDelete_ToleratesIndividualRemoteDeleteFailures(t *testing.T) {
	storage := testStorage(t)
	app := processingApp(t, storage, nil)
	meta := decodeMeta(app)
	setMetaOpenAI(meta, metaKeyFileIDs, []string{"file_a", "file_b"})
	app.Meta = encodeMeta(meta)

	repo := newFakeRepo(app)
	gateway := &fakeGateway{
		configured:       true,
		deleteFileErrFor: map[string]error{"file_a": fmt.Errorf("remote refused")},
	}
	svc := NewApplicationService(testLogger(t), repo, storage, gateway)

	if err := svc.Delete(context.Background(), app.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(gateway.deletedFiles) != 1 || gateway.deletedFiles[0] != "file_b" {
		t.Fatalf("expected the surviving delete attempted, got %v", gateway.deletedFiles)
	}
	if stored, _ := repo.GetByID(context.Background(), nil, app.ID); stored != nil {
		t.Fatalf("expected record removed despite remote failure")
	}
}

func TestDelete_SkipsRemoteCleanupWhenGatewayUnconfigured(t *testing.T) {
	storage := testStorage(t)
	app := processingApp(t, storage, nil)
	repo := newFakeRepo(app)
	gateway := &fakeGateway{configured: false}
	svc := NewApplicationService(testLogger(t), repo, storage, gateway)

	if err := svc.Delete(context.Background(), app.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(gateway.deletedThreads) != 0 || len(gateway.deletedFiles) != 0 {
		t.Fatalf("expected no remote calls, got %v / %v", gateway.deletedThreads, gateway.deletedFiles)
	}
}

func TestDownloadPath_ResolvesKinds(t *testing.T) {
	storage := testStorage(t)
	app := processingApp(t, storage, nil)
	app.Status = types.ApplicationStatusReady
	app.TxtPath = "generated/ada/application.txt"
	app.DocxPath = "generated/ada/application.docx"
	meta := decodeMeta(app)
	meta[metaKeyPDFRel] = "generated/ada/application.pdf"
	app.Meta = encodeMeta(meta)

	svc := NewApplicationService(testLogger(t), newFakeRepo(app), storage, nil)

	abs, filename, err := svc.DownloadPath(context.Background(), app.ID, "docx")
	if err != nil {
		t.Fatalf("DownloadPath docx: %v", err)
	}
	if filename != "application.docx" || !strings.HasSuffix(abs, "application.docx") {
		t.Fatalf("unexpected docx resolution: %q %q", abs, filename)
	}
	if _, _, err := svc.DownloadPath(context.Background(), app.ID, "pdf"); err != nil {
		t.Fatalf("DownloadPath pdf: %v", err)
	}
	if _, _, err := svc.DownloadPath(context.Background(), app.ID, "exe"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestDownloadPath_NotReadyAndMissingArtifacts(t *testing.T) {
	storage := testStorage(t)
	pending := processingApp(t, storage, nil)
	pending.Status = types.ApplicationStatusPending
	ready := processingApp(t, storage, nil)
	ready.Status = types.ApplicationStatusReady

	svc := NewApplicationService(testLogger(t), newFakeRepo(pending, ready), storage, nil)

	var verr *ValidationError
	if _, _, err := svc.DownloadPath(context.Background(), pending.ID, "txt"); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for pending application, got %v", err)
	}
	var nf *NotFoundError
	if _, _, err := svc.DownloadPath(context.Background(), ready.ID, "pdf"); !errors.As(err, &nf) {
		t.Fatalf("expected not found for missing pdf, got %v", err)
	}
}
