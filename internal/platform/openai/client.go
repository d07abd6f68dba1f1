package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/shinyadventure/coverletter-backend/internal/platform/envutil"
	"github.com/shinyadventure/coverletter-backend/internal/platform/httpx"
	"github.com/shinyadventure/coverletter-backend/internal/platform/logger"
)

// Client wraps the OpenAI Assistants v2 HTTP surface used by the generation
// pipeline: file upload/download, threads, messages, runs and run steps.
type Client interface {
	Configured() bool
	ConfiguredAssistantID() string

	UploadFile(ctx context.Context, data []byte, filename string) (string, error)
	GetFileMetadata(ctx context.Context, fileID string) (*FileMetadata, error)
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
	DeleteFile(ctx context.Context, fileID string) error

	CreateAssistant(ctx context.Context, name string, instructions string, tools []string) (string, error)
	CreateThread(ctx context.Context) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
	PostMessage(ctx context.Context, threadID string, content string, fileIDs []string) error
	StartRun(ctx context.Context, threadID string, assistantID string, tools []string) (string, error)
	GetRun(ctx context.Context, threadID string, runID string) (RunStatus, error)
	ListRunSteps(ctx context.Context, threadID string, runID string, limit int) ([]RunStep, error)
	ListMessages(ctx context.Context, threadID string, limit int, order string) ([]Message, error)
}

type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
	RunExpired    RunStatus = "expired"
)

// Terminal reports whether the run will make no further progress.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired:
		return true
	default:
		return false
	}
}

const (
	ToolFileSearch      = "file_search"
	ToolCodeInterpreter = "code_interpreter"
)

type FileMetadata struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Bytes    int64  `json:"bytes"`
	Purpose  string `json:"purpose"`
}

// RunStep is one discrete action the assistant took during a run. FileOutputs
// holds the code-interpreter file artifacts the step produced, if any.
type RunStep struct {
	ID          string
	Type        string
	FileOutputs []FileOutput
}

type FileOutput struct {
	FileID   string
	Filename string
}

type Message struct {
	Role string
	Text string
}

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	AssistantID string
	Timeout     time.Duration
	MaxRetries  int
}

func ConfigFromEnv() Config {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPEN_API_KEY"))
	}
	return Config{
		APIKey:      apiKey,
		BaseURL:     envutil.Str("OPENAI_BASE_URL", "https://api.openai.com"),
		Model:       envutil.Str("OPENAI_MODEL", "gpt-4o-mini"),
		AssistantID: strings.TrimSpace(os.Getenv("OPENAI_ASSISTANT_ID")),
		Timeout:     envutil.DurationSeconds("OPENAI_TIMEOUT_SECONDS", 60*time.Second),
		MaxRetries:  envutil.Int("OPENAI_MAX_RETRIES", 3),
	}
}

func NewFromEnv(log *logger.Logger) (Client, error) {
	return New(log, ConfigFromEnv())
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &client{
		log:        log.With("client", "OpenAIClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		// Downloads of generated DOCX/PDF artifacts can outlast the JSON
		// call budget.
		downloadClient: &http.Client{Timeout: 2 * cfg.Timeout},
	}, nil
}

type client struct {
	log            *logger.Logger
	cfg            Config
	httpClient     *http.Client
	downloadClient *http.Client
}

func (c *client) Configured() bool {
	return c != nil && strings.TrimSpace(c.cfg.APIKey) != ""
}

func (c *client) ConfiguredAssistantID() string {
	if c == nil {
		return ""
	}
	return c.cfg.AssistantID
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) doOnce(ctx context.Context, method, path string, body any, accept string) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	httpClient := c.httpClient
	if accept == "application/octet-stream" {
		httpClient = c.downloadClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	raw, err := c.doRetry(ctx, method, path, body, "")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if uErr := json.Unmarshal(raw, out); uErr != nil {
		return fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(raw))
	}
	return nil
}

func (c *client) doRetry(ctx context.Context, method, path string, body any, accept string) ([]byte, error) {
	backoff := 1 * time.Second

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body, accept)
		if err == nil {
			return raw, nil
		}
		if !httpx.IsRetryableError(err) || attempt == c.cfg.MaxRetries {
			return nil, err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}
}

func (c *client) doMultipart(ctx context.Context, path string, fields map[string]string, fileField, filename string, data []byte, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	fw, err := w.CreateFormFile(fileField, filename)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if uErr := json.Unmarshal(raw, out); uErr != nil {
		return fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(raw))
	}
	return nil
}
