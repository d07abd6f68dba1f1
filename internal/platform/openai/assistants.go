package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type idResponse struct {
	ID string `json:"id"`
}

func (c *client) UploadFile(ctx context.Context, data []byte, filename string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("upload file %q: empty content", filename)
	}
	var out idResponse
	fields := map[string]string{"purpose": "assistants"}
	if err := c.doMultipart(ctx, "/v1/files", fields, "file", filename, data, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("upload file %q: no id in response", filename)
	}
	return out.ID, nil
}

func (c *client) GetFileMetadata(ctx context.Context, fileID string) (*FileMetadata, error) {
	var out FileMetadata
	if err := c.do(ctx, http.MethodGet, "/v1/files/"+url.PathEscape(fileID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return c.doRetry(ctx, http.MethodGet, "/v1/files/"+url.PathEscape(fileID)+"/content", nil, "application/octet-stream")
}

func (c *client) DeleteFile(ctx context.Context, fileID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/files/"+url.PathEscape(fileID), nil, nil)
}

type assistantRequest struct {
	Model        string     `json:"model"`
	Name         string     `json:"name,omitempty"`
	Instructions string     `json:"instructions,omitempty"`
	Tools        []toolSpec `json:"tools,omitempty"`
}

type toolSpec struct {
	Type string `json:"type"`
}

func toolSpecs(tools []string) []toolSpec {
	specs := make([]toolSpec, 0, len(tools))
	for _, t := range tools {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		specs = append(specs, toolSpec{Type: t})
	}
	return specs
}

func (c *client) CreateAssistant(ctx context.Context, name string, instructions string, tools []string) (string, error) {
	req := assistantRequest{
		Model:        c.cfg.Model,
		Name:         name,
		Instructions: instructions,
		Tools:        toolSpecs(tools),
	}
	var out idResponse
	if err := c.do(ctx, http.MethodPost, "/v1/assistants", req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("create assistant: no id in response")
	}
	return out.ID, nil
}

func (c *client) CreateThread(ctx context.Context) (string, error) {
	var out idResponse
	if err := c.do(ctx, http.MethodPost, "/v1/threads", map[string]any{}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("create thread: no id in response")
	}
	return out.ID, nil
}

func (c *client) DeleteThread(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/threads/"+url.PathEscape(threadID), nil, nil)
}

type messageRequest struct {
	Role        string              `json:"role"`
	Content     string              `json:"content"`
	Attachments []messageAttachment `json:"attachments,omitempty"`
}

type messageAttachment struct {
	FileID string     `json:"file_id"`
	Tools  []toolSpec `json:"tools"`
}

func (c *client) PostMessage(ctx context.Context, threadID string, content string, fileIDs []string) error {
	req := messageRequest{Role: "user", Content: content}
	for _, fid := range fileIDs {
		if fid == "" {
			continue
		}
		req.Attachments = append(req.Attachments, messageAttachment{
			FileID: fid,
			Tools:  []toolSpec{{Type: ToolFileSearch}},
		})
	}
	return c.do(ctx, http.MethodPost, "/v1/threads/"+url.PathEscape(threadID)+"/messages", req, nil)
}

type runRequest struct {
	AssistantID string     `json:"assistant_id"`
	Tools       []toolSpec `json:"tools,omitempty"`
}

func (c *client) StartRun(ctx context.Context, threadID string, assistantID string, tools []string) (string, error) {
	req := runRequest{AssistantID: assistantID, Tools: toolSpecs(tools)}
	var out idResponse
	if err := c.do(ctx, http.MethodPost, "/v1/threads/"+url.PathEscape(threadID)+"/runs", req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("start run: no id in response")
	}
	return out.ID, nil
}

type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *client) GetRun(ctx context.Context, threadID string, runID string) (RunStatus, error) {
	var out runResponse
	path := "/v1/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return RunStatus(out.Status), nil
}

// Wire shapes for run steps; only code_interpreter file_path outputs are
// surfaced to callers.
type runStepList struct {
	Data []runStepResponse `json:"data"`
}

type runStepResponse struct {
	ID          string `json:"id"`
	StepDetails struct {
		Type      string `json:"type"`
		ToolCalls []struct {
			Type            string `json:"type"`
			CodeInterpreter struct {
				Outputs []struct {
					Type     string `json:"type"`
					FileID   string `json:"file_id"`
					FilePath struct {
						Filename string `json:"filename"`
					} `json:"file_path"`
				} `json:"outputs"`
			} `json:"code_interpreter"`
		} `json:"tool_calls"`
	} `json:"step_details"`
}

func (c *client) ListRunSteps(ctx context.Context, threadID string, runID string, limit int) ([]RunStep, error) {
	if limit <= 0 {
		limit = 50
	}
	path := "/v1/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID) +
		"/steps?limit=" + strconv.Itoa(limit)
	var out runStepList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	steps := make([]RunStep, 0, len(out.Data))
	for _, raw := range out.Data {
		step := RunStep{ID: raw.ID, Type: raw.StepDetails.Type}
		if raw.StepDetails.Type == "tool_calls" {
			for _, tc := range raw.StepDetails.ToolCalls {
				if tc.Type != ToolCodeInterpreter {
					continue
				}
				for _, o := range tc.CodeInterpreter.Outputs {
					if o.Type == "file_path" && o.FileID != "" {
						step.FileOutputs = append(step.FileOutputs, FileOutput{
							FileID:   o.FileID,
							Filename: o.FilePath.Filename,
						})
					}
				}
			}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

type messageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

func (c *client) ListMessages(ctx context.Context, threadID string, limit int, order string) ([]Message, error) {
	if limit <= 0 {
		limit = 1
	}
	if order == "" {
		order = "desc"
	}
	path := "/v1/threads/" + url.PathEscape(threadID) + "/messages?limit=" + strconv.Itoa(limit) +
		"&order=" + url.QueryEscape(order)
	var out messageList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(out.Data))
	for _, raw := range out.Data {
		var text string
		for _, part := range raw.Content {
			if part.Type == "text" && part.Text.Value != "" {
				text = part.Text.Value
				break
			}
		}
		msgs = append(msgs, Message{Role: raw.Role, Text: text})
	}
	return msgs, nil
}
