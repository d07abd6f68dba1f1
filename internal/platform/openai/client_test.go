package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shinyadventure/coverletter-backend/internal/platform/logger"
)

func testClient(t *testing.T, handler http.Handler, maxRetries int) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	c, err := New(log, Config{
		APIKey:     "sk-test",
		BaseURL:    srv.URL,
		Model:      "gpt-4o-mini",
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_RequiresAPIKey(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	if _, err := New(log, Config{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestCreateThread_SendsAuthAndBetaHeaders(t *testing.T) {
	var gotAuth, gotBeta string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBeta = r.Header.Get("OpenAI-Beta")
		w.Write([]byte(`{"id":"thread_abc"}`))
	}), 0)

	id, err := c.CreateThread(context.Background())
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if id != "thread_abc" {
		t.Fatalf("expected thread id, got %q", id)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotBeta != "assistants=v2" {
		t.Fatalf("expected assistants=v2 header, got %q", gotBeta)
	}
}

func TestUploadFile_PostsMultipartWithAssistantsPurpose(t *testing.T) {
	var gotPurpose, gotFilename string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotPurpose = r.FormValue("purpose")
		if fhs := r.MultipartForm.File["file"]; len(fhs) == 1 {
			gotFilename = fhs[0].Filename
		}
		w.Write([]byte(`{"id":"file_abc"}`))
	}), 0)

	id, err := c.UploadFile(context.Background(), []byte("content"), "cv.txt")
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if id != "file_abc" {
		t.Fatalf("expected file id, got %q", id)
	}
	if gotPurpose != "assistants" {
		t.Fatalf("expected purpose=assistants, got %q", gotPurpose)
	}
	if gotFilename != "cv.txt" {
		t.Fatalf("expected filename preserved, got %q", gotFilename)
	}
}

func TestUploadFile_RejectsEmptyContent(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request for empty upload")
	}), 0)
	if _, err := c.UploadFile(context.Background(), nil, "cv.txt"); err == nil {
		t.Fatalf("expected error for empty upload")
	}
}

func TestGetRun_RetriesOnTooManyRequests(t *testing.T) {
	var calls int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id":"run_1","status":"completed"}`))
	}), 2)

	status, err := c.GetRun(context.Background(), "thread_1", "run_1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if status != RunCompleted {
		t.Fatalf("expected completed, got %q", status)
	}
	if calls != 2 {
		t.Fatalf("expected one retry, got %d calls", calls)
	}
}

func TestGetRun_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"no such run"}}`))
	}), 3)

	_, err := c.GetRun(context.Background(), "thread_1", "run_x")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 404 {
		t.Fatalf("expected 404 http error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retries on 404, got %d calls", calls)
	}
}

func TestListRunSteps_SurfacesCodeInterpreterFileOutputs(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"id":"step_1","step_details":{"type":"message_creation"}},
			{"id":"step_2","step_details":{"type":"tool_calls","tool_calls":[
				{"type":"code_interpreter","code_interpreter":{"outputs":[
					{"type":"logs"},
					{"type":"file_path","file_id":"file_docx","file_path":{"filename":"/mnt/data/application.docx"}},
					{"type":"file_path","file_id":"file_pdf","file_path":{"filename":"/mnt/data/application.pdf"}}
				]}},
				{"type":"file_search"}
			]}}
		]}`))
	}), 0)

	steps, err := c.ListRunSteps(context.Background(), "thread_1", "run_1", 50)
	if err != nil {
		t.Fatalf("ListRunSteps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if len(steps[0].FileOutputs) != 0 {
		t.Fatalf("expected no outputs on message step, got %v", steps[0].FileOutputs)
	}
	outs := steps[1].FileOutputs
	if len(outs) != 2 {
		t.Fatalf("expected 2 file outputs, got %v", outs)
	}
	if outs[0].FileID != "file_docx" || outs[0].Filename != "/mnt/data/application.docx" {
		t.Fatalf("unexpected first output: %+v", outs[0])
	}
}

func TestListMessages_ExtractsFirstTextPart(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("order"); got != "desc" {
			t.Errorf("expected order=desc, got %q", got)
		}
		w.Write([]byte(`{"data":[
			{"role":"assistant","content":[
				{"type":"image_file"},
				{"type":"text","text":{"value":"Dear team,"}},
				{"type":"text","text":{"value":"ignored second part"}}
			]},
			{"role":"user","content":[{"type":"text","text":{"value":"prompt"}}]}
		]}`))
	}), 0)

	msgs, err := c.ListMessages(context.Background(), "thread_1", 2, "desc")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "assistant" || msgs[0].Text != "Dear team," {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
}
