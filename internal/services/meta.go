package services

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/shinyadventure/coverletter-backend/internal/types"
)

// Meta bag keys. The bag is owned by the orchestrator while a request is
// processing; collaborators only read it.
const (
	metaKeyFiles    = "files"
	metaKeyImages   = "images"
	metaKeyPDFRel   = "pdf_rel"
	metaKeyError    = "error"
	metaKeyOpenAI   = "openai"
	metaKeyThreadID = "thread_id"
	metaKeyRunID    = "run_id"
	metaKeyFileIDs  = "file_ids"
)

func decodeMeta(app *types.Application) map[string]any {
	meta := map[string]any{}
	if app == nil || len(app.Meta) == 0 {
		return meta
	}
	if err := json.Unmarshal(app.Meta, &meta); err != nil {
		return map[string]any{}
	}
	return meta
}

func encodeMeta(meta map[string]any) datatypes.JSON {
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return datatypes.JSON([]byte(`{}`))
	}
	return datatypes.JSON(raw)
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

func metaStringSlice(meta map[string]any, key string) []string {
	if meta == nil {
		return nil
	}
	raw, ok := meta[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func metaOpenAI(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	if m, ok := meta[metaKeyOpenAI].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func setMetaOpenAI(meta map[string]any, key string, value any) {
	oa, ok := meta[metaKeyOpenAI].(map[string]any)
	if !ok {
		oa = map[string]any{}
		meta[metaKeyOpenAI] = oa
	}
	oa[key] = value
}
