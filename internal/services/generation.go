package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/shinyadventure/coverletter-backend/internal/platform/envutil"
	"github.com/shinyadventure/coverletter-backend/internal/platform/logger"
	"github.com/shinyadventure/coverletter-backend/internal/platform/openai"
	"github.com/shinyadventure/coverletter-backend/internal/repos"
	"github.com/shinyadventure/coverletter-backend/internal/types"
)

// OutputMode selects what the run is asked to produce: generated DOCX/PDF
// artifacts, or the letter inline as self-contained HTML.
type OutputMode string

const (
	OutputModeInlineHTML OutputMode = "inline_html"
	OutputModeArtifacts  OutputMode = "artifacts"
)

type GenerationConfig struct {
	Mode OutputMode

	PollInterval time.Duration
	RunDeadline  time.Duration

	ExcerptMaxChars int
	ExcerptMaxFiles int
	UploadParallel  int

	AssistantName         string
	AssistantInstructions string

	WorkerTick        time.Duration
	WorkerMaxAttempts int
	WorkerRetryDelay  time.Duration
	StaleProcessing   time.Duration
}

func GenerationConfigFromEnv() GenerationConfig {
	mode := OutputMode(envutil.Str("GENERATION_OUTPUT_MODE", string(OutputModeInlineHTML)))
	if mode != OutputModeArtifacts {
		mode = OutputModeInlineHTML
	}

	// The two modes have very different completion profiles: inline replies
	// land in seconds, code-interpreter artifact runs take minutes.
	pollDefault := 500 * time.Millisecond
	deadlineDefault := 45 * time.Second
	if mode == OutputModeArtifacts {
		pollDefault = 5 * time.Second
		deadlineDefault = 5 * time.Minute
	}

	return GenerationConfig{
		Mode:            mode,
		PollInterval:    envutil.DurationMillis("GENERATION_POLL_INTERVAL_MS", pollDefault),
		RunDeadline:     envutil.DurationSeconds("GENERATION_RUN_DEADLINE_SECONDS", deadlineDefault),
		ExcerptMaxChars: envutil.Int("GENERATION_EXCERPT_MAX_CHARS", 600),
		ExcerptMaxFiles: envutil.Int("GENERATION_EXCERPT_MAX_FILES", 3),
		UploadParallel:  envutil.Int("GENERATION_UPLOAD_PARALLEL", 3),
		AssistantName:   envutil.Str("GENERATION_ASSISTANT_NAME", "ShinyAdventure Cover Letter Assistant"),
		AssistantInstructions: envutil.Str("GENERATION_ASSISTANT_INSTRUCTIONS",
			"You help generate concise, personalized job application letters using user prompts and attached files. "+
				"Use file_search to extract relevant details and code_interpreter to transform content and produce DOCX/PDF outputs that match the provided templates."),
		WorkerTick:        envutil.DurationSeconds("GENERATION_WORKER_TICK_SECONDS", 1*time.Second),
		WorkerMaxAttempts: envutil.Int("GENERATION_WORKER_MAX_ATTEMPTS", 3),
		WorkerRetryDelay:  envutil.DurationSeconds("GENERATION_WORKER_RETRY_SECONDS", 30*time.Second),
		StaleProcessing:   envutil.DurationSeconds("GENERATION_STALE_PROCESSING_SECONDS", 10*time.Minute),
	}
}

type pipelineStep string

const (
	stepUpload           pipelineStep = "upload"
	stepThreadCreate     pipelineStep = "thread_create"
	stepMessagePost      pipelineStep = "message_post"
	stepAssistantResolve pipelineStep = "assistant_resolve"
	stepRunStart         pipelineStep = "run_start"
	stepRunPoll          pipelineStep = "run_poll"
	stepRetrieve         pipelineStep = "retrieve"
)

// pipelineContext is the state threaded through the pipeline steps for one
// attempt. It is created per attempt and never shared across requests.
type pipelineContext struct {
	threadID        string
	runID           string
	uploadedFileIDs []string
	artifactFileIDs []string
}

type generationOutcome struct {
	body         string
	docxRel      string
	pdfRel       string
	usedFallback bool
	pctx         pipelineContext
}

type GenerationService interface {
	StartWorker(ctx context.Context)
	ProcessApplication(ctx context.Context, app *types.Application)
}

type generationService struct {
	db        *gorm.DB
	log       *logger.Logger
	repo      repos.ApplicationRepo
	storage   StorageService
	gateway   openai.Client
	templates TemplateCacheService
	mailer    MailerService
	cfg       GenerationConfig
}

func NewGenerationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.ApplicationRepo,
	storage StorageService,
	gateway openai.Client,
	templates TemplateCacheService,
	mailer MailerService,
	cfg GenerationConfig,
) GenerationService {
	return &generationService{
		db:        db,
		log:       baseLog.With("service", "GenerationService"),
		repo:      repo,
		storage:   storage,
		gateway:   gateway,
		templates: templates,
		mailer:    mailer,
		cfg:       cfg,
	}
}

func (s *generationService) StartWorker(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.WorkerTick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				app, err := s.repo.ClaimNextRunnable(ctx, s.db, s.cfg.WorkerMaxAttempts, s.cfg.WorkerRetryDelay, s.cfg.StaleProcessing)
				if err != nil {
					s.log.Warn("ClaimNextRunnable failed", "error", err)
					continue
				}
				if app == nil {
					continue
				}
				app.Status = types.ApplicationStatusProcessing
				s.ProcessApplication(ctx, app)
			}
		}
	}()
}

// ProcessApplication drives one generation attempt end to end. It always
// leaves the application in ready or failed: every guarded path ends in
// ready (possibly with fallback content), and only an unrecoverable persist
// error or a panic reaches failed.
func (s *generationService) ProcessApplication(ctx context.Context, app *types.Application) {
	if app == nil {
		return
	}
	appLog := s.log.With("application_id", app.ID)

	defer func() {
		if r := recover(); r != nil {
			s.failApplication(ctx, appLog, app, fmt.Errorf("panic: %v", r))
		}
	}()

	if app.Status != types.ApplicationStatusProcessing {
		_ = s.repo.UpdateFields(ctx, nil, app.ID, map[string]interface{}{
			"status": types.ApplicationStatusProcessing,
		})
		app.Status = types.ApplicationStatusProcessing
	}

	meta := decodeMeta(app)

	progress := func(stage pipelineStep) {
		appLog.Debug("Generation stage", "stage", string(stage))
		_ = s.repo.Heartbeat(ctx, nil, app.ID)
	}

	stamp := time.Now().Format("20060102_150405")
	baseDir := fmt.Sprintf("generated/%s_%s", slugify(app.Name), stamp)

	outcome := s.generate(ctx, appLog, app, meta, baseDir, progress)

	txtRel := fmt.Sprintf("%s/application_%s.txt", baseDir, stamp)
	if err := s.storage.Put(ctx, txtRel, []byte(outcome.body)); err != nil {
		appLog.Warn("Could not write txt artifact", "error", err)
		txtRel = ""
	}

	if outcome.pctx.threadID != "" {
		setMetaOpenAI(meta, metaKeyThreadID, outcome.pctx.threadID)
	}
	if outcome.pctx.runID != "" {
		setMetaOpenAI(meta, metaKeyRunID, outcome.pctx.runID)
	}
	if len(outcome.pctx.artifactFileIDs) > 0 {
		setMetaOpenAI(meta, metaKeyFileIDs, outcome.pctx.artifactFileIDs)
	}
	if outcome.pdfRel != "" {
		meta[metaKeyPDFRel] = outcome.pdfRel
	}
	delete(meta, metaKeyError)

	if err := s.repo.UpdateFields(ctx, nil, app.ID, map[string]interface{}{
		"body":      outcome.body,
		"txt_path":  txtRel,
		"docx_path": outcome.docxRel,
		"status":    types.ApplicationStatusReady,
		"meta":      encodeMeta(meta),
		"locked_at": nil,
	}); err != nil {
		s.failApplication(ctx, appLog, app, fmt.Errorf("persist generation result: %w", err))
		return
	}

	app.Body = outcome.body
	app.TxtPath = txtRel
	app.DocxPath = outcome.docxRel
	app.Status = types.ApplicationStatusReady
	app.Meta = encodeMeta(meta)

	appLog.Info("Generation finished",
		"fallback", outcome.usedFallback,
		"docx", outcome.docxRel,
		"pdf", outcome.pdfRel,
	)

	docxAbs := ""
	if outcome.docxRel != "" {
		docxAbs = s.storage.Path(outcome.docxRel)
	}
	pdfAbs := ""
	if outcome.pdfRel != "" {
		pdfAbs = s.storage.Path(outcome.pdfRel)
	}
	if s.mailer != nil {
		if err := s.mailer.SendGenerated(ctx, app, docxAbs, pdfAbs); err != nil {
			appLog.Warn("Mail send failed", "error", err)
		}
	}
}

// failApplication records the attempt as failed and releases the claim. A
// later claim may retry; the cause is kept in meta for the status endpoint.
func (s *generationService) failApplication(ctx context.Context, appLog *logger.Logger, app *types.Application, cause error) {
	now := time.Now()
	meta := decodeMeta(app)
	meta[metaKeyError] = cause.Error()
	encoded := encodeMeta(meta)
	if err := s.repo.UpdateFields(ctx, nil, app.ID, map[string]interface{}{
		"status":        types.ApplicationStatusFailed,
		"meta":          encoded,
		"last_error_at": now,
		"locked_at":     nil,
	}); err != nil {
		appLog.Error("Could not mark application failed", "error", err)
	}
	app.Status = types.ApplicationStatusFailed
	app.Meta = encoded
	appLog.Error("Generation attempt failed", "error", cause)
}

func (s *generationService) generate(
	ctx context.Context,
	appLog *logger.Logger,
	app *types.Application,
	meta map[string]any,
	baseDir string,
	progress func(pipelineStep),
) generationOutcome {
	pctx := pipelineContext{}
	fallback := func(step pipelineStep, reason string) generationOutcome {
		appLog.Warn("Falling back to canned letter", "step", string(step), "reason", reason)
		out := fallbackOutcome(app, pctx)
		if s.cfg.Mode == OutputModeArtifacts {
			s.ensureLocalDocx(ctx, appLog, app.Name, out.body, baseDir, &out)
		}
		return out
	}

	if s.gateway == nil || !s.gateway.Configured() {
		appLog.Warn("Gateway not configured, skipping remote generation")
		out := fallbackOutcome(app, pctx)
		if s.cfg.Mode == OutputModeArtifacts {
			s.ensureLocalDocx(ctx, appLog, app.Name, out.body, baseDir, &out)
		}
		return out
	}

	fileRels := metaStringSlice(meta, metaKeyFiles)
	imageRels := metaStringSlice(meta, metaKeyImages)
	prompt := s.buildPrompt(app, fileRels, imageRels)
	appLog.Info("Prompt built", "chars", len(prompt), "mode", string(s.cfg.Mode))

	progress(stepUpload)
	pctx.uploadedFileIDs = s.uploadAssets(ctx, appLog, append(append([]string{}, fileRels...), imageRels...))
	if s.cfg.Mode == OutputModeArtifacts && s.templates != nil {
		pctx.uploadedFileIDs = append(pctx.uploadedFileIDs, s.templates.TemplateHandles(ctx)...)
	}
	appLog.Info("Assets uploaded to gateway", "count", len(pctx.uploadedFileIDs))

	progress(stepThreadCreate)
	threadID, err := s.gateway.CreateThread(ctx)
	if err != nil {
		return fallback(stepThreadCreate, err.Error())
	}
	pctx.threadID = threadID

	progress(stepMessagePost)
	if err := s.gateway.PostMessage(ctx, threadID, prompt, pctx.uploadedFileIDs); err != nil {
		return fallback(stepMessagePost, err.Error())
	}

	progress(stepAssistantResolve)
	assistantID := s.gateway.ConfiguredAssistantID()
	if assistantID == "" {
		tools := []string{openai.ToolFileSearch, openai.ToolCodeInterpreter}
		assistantID, err = s.gateway.CreateAssistant(ctx, s.cfg.AssistantName, s.cfg.AssistantInstructions, tools)
		if err != nil {
			return fallback(stepAssistantResolve, err.Error())
		}
	}

	progress(stepRunStart)
	var runTools []string
	if len(pctx.uploadedFileIDs) > 0 {
		runTools = []string{openai.ToolFileSearch}
	}
	runID, err := s.gateway.StartRun(ctx, threadID, assistantID, runTools)
	if err != nil {
		return fallback(stepRunStart, err.Error())
	}
	pctx.runID = runID

	progress(stepRunPoll)
	status, timedOut := s.pollRun(ctx, app, threadID, runID)
	if timedOut {
		// Best-effort abandonment: the remote run is left to expire on its
		// own while the user still gets a letter.
		appLog.Warn("Run polling deadline exceeded", "run_id", runID, "deadline", s.cfg.RunDeadline.String())
		return fallback(stepRunPoll, "deadline exceeded")
	}
	if status != openai.RunCompleted {
		return fallback(stepRunPoll, "terminal status "+string(status))
	}

	progress(stepRetrieve)
	text := s.latestAssistantText(ctx, threadID)

	if s.cfg.Mode == OutputModeArtifacts {
		out := generationOutcome{pctx: pctx}
		out.docxRel, out.pdfRel, out.pctx.artifactFileIDs = s.downloadRunArtifacts(ctx, appLog, threadID, runID, baseDir)
		if text != "" {
			out.body = EnsureHTML(text, app.Name)
		} else {
			out.body = FallbackLetter(app.Name, app.Notes)
			out.usedFallback = true
			appLog.Warn("Assistant returned no text, using fallback body")
		}
		s.ensureLocalDocx(ctx, appLog, app.Name, out.body, baseDir, &out)
		return out
	}

	if text == "" {
		return fallback(stepRetrieve, "no assistant text")
	}
	return generationOutcome{
		body: EnsureHTML(text, app.Name),
		pctx: pctx,
	}
}

func fallbackOutcome(app *types.Application, pctx pipelineContext) generationOutcome {
	return generationOutcome{
		body:         FallbackLetter(app.Name, app.Notes),
		usedFallback: true,
		pctx:         pctx,
	}
}

func (s *generationService) buildPrompt(app *types.Application, fileRels, imageRels []string) string {
	in := PromptInput{
		Name:       app.Name,
		Notes:      app.Notes,
		ImageCount: len(imageRels),
	}
	for _, rel := range fileRels {
		in.FileNames = append(in.FileNames, filepath.Base(rel))
		in.FileURLs = append(in.FileURLs, s.storage.URL(rel))
	}
	for _, rel := range imageRels {
		in.ImageURLs = append(in.ImageURLs, s.storage.URL(rel))
	}

	if s.cfg.Mode == OutputModeArtifacts {
		return BuildArtifactPrompt(in)
	}

	var absPaths []string
	for _, rel := range fileRels {
		absPaths = append(absPaths, s.storage.Path(rel))
	}
	in.Excerpts = ExtractFileTexts(absPaths, os.ReadFile)
	return BuildInlinePrompt(in, s.cfg.ExcerptMaxChars, s.cfg.ExcerptMaxFiles)
}

// uploadAssets pushes each stored asset to the gateway. Per-file failures,
// including files missing from local storage, are logged and skipped; the
// route for this step is skip-and-continue, never abort.
func (s *generationService) uploadAssets(ctx context.Context, appLog *logger.Logger, rels []string) []string {
	if len(rels) == 0 {
		return nil
	}
	parallel := s.cfg.UploadParallel
	if parallel <= 0 {
		parallel = 1
	}

	results := make([]string, len(rels))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, rel := range rels {
		i, rel := i, rel
		g.Go(func() error {
			abs := s.storage.Path(rel)
			data, err := os.ReadFile(abs)
			if err != nil {
				appLog.Warn("Skipping asset, not readable locally", "asset", rel, "error", err)
				return nil
			}
			id, err := s.gateway.UploadFile(ctx, data, filepath.Base(rel))
			if err != nil {
				appLog.Warn("Asset upload failed, skipping", "asset", rel, "error", err)
				return nil
			}
			results[i] = id
			return nil
		})
	}
	_ = g.Wait()

	ids := make([]string, 0, len(results))
	for _, id := range results {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// pollRun waits for the run to reach a terminal state. The deadline here is
// the pipeline's only overall cancellation point; individual poll errors are
// tolerated and retried on the next tick.
func (s *generationService) pollRun(ctx context.Context, app *types.Application, threadID, runID string) (openai.RunStatus, bool) {
	deadline := time.Now().Add(s.cfg.RunDeadline)
	ticks := 0
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", true
		case <-time.After(s.cfg.PollInterval):
		}

		ticks++
		if ticks%10 == 0 {
			_ = s.repo.Heartbeat(ctx, nil, app.ID)
		}

		status, err := s.gateway.GetRun(ctx, threadID, runID)
		if err != nil {
			s.log.Warn("Run poll failed", "run_id", runID, "error", err)
			continue
		}
		if status.Terminal() {
			return status, false
		}
	}
	return "", true
}

func (s *generationService) latestAssistantText(ctx context.Context, threadID string) string {
	msgs, err := s.gateway.ListMessages(ctx, threadID, 1, "desc")
	if err != nil {
		s.log.Warn("Message retrieval failed", "thread_id", threadID, "error", err)
		return ""
	}
	for _, m := range msgs {
		if m.Role == "assistant" && strings.TrimSpace(m.Text) != "" {
			return strings.TrimSpace(m.Text)
		}
	}
	return ""
}

// downloadRunArtifacts walks the run steps for code-interpreter file outputs
// and persists each under the request's generated directory, classifying by
// extension. Individual download failures skip that artifact.
func (s *generationService) downloadRunArtifacts(ctx context.Context, appLog *logger.Logger, threadID, runID, baseDir string) (docxRel, pdfRel string, fileIDs []string) {
	steps, err := s.gateway.ListRunSteps(ctx, threadID, runID, 50)
	if err != nil {
		appLog.Warn("Run step listing failed", "run_id", runID, "error", err)
		return "", "", nil
	}

	for _, step := range steps {
		for _, out := range step.FileOutputs {
			filename := filepath.Base(out.Filename)
			if filename == "" || filename == "." {
				if fm, mErr := s.gateway.GetFileMetadata(ctx, out.FileID); mErr == nil && fm.Filename != "" {
					filename = filepath.Base(fm.Filename)
				} else {
					filename = "openai_" + out.FileID
				}
			}

			data, dErr := s.gateway.DownloadFile(ctx, out.FileID)
			if dErr != nil {
				appLog.Warn("Artifact download failed", "file_id", out.FileID, "error", dErr)
				continue
			}
			rel := baseDir + "/" + sanitizeFilename(filename)
			if pErr := s.storage.Put(ctx, rel, data); pErr != nil {
				appLog.Warn("Artifact save failed", "file_id", out.FileID, "error", pErr)
				continue
			}
			fileIDs = append(fileIDs, out.FileID)
			switch strings.ToLower(filepath.Ext(rel)) {
			case ".docx":
				docxRel = rel
			case ".pdf":
				pdfRel = rel
			}
			appLog.Info("Artifact saved", "file_id", out.FileID, "relative", rel, "bytes", len(data))
		}
	}
	return docxRel, pdfRel, fileIDs
}

// ensureLocalDocx fills in a locally rendered Word document when artifacts
// mode ends up without one from the run.
func (s *generationService) ensureLocalDocx(ctx context.Context, appLog *logger.Logger, name, body, baseDir string, out *generationOutcome) {
	if out.docxRel != "" {
		return
	}
	data, err := WriteSimpleDocx(name, stripTagsForDocx(body))
	if err != nil {
		appLog.Warn("Local DOCX rendering failed", "error", err)
		return
	}
	rel := fmt.Sprintf("%s/application_%s.docx", baseDir, time.Now().Format("20060102_150405"))
	if err := s.storage.Put(ctx, rel, data); err != nil {
		appLog.Warn("Local DOCX save failed", "error", err)
		return
	}
	out.docxRel = rel
	appLog.Info("Local DOCX fallback created", "relative", rel)
}

var (
	slugStrip    = regexp.MustCompile(`[^a-z0-9]+`)
	htmlTagStrip = regexp.MustCompile(`<[^>]*>`)
)

func slugify(name string) string {
	slug := strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		return "application"
	}
	return slug
}

func stripTagsForDocx(body string) string {
	if !strings.Contains(body, "<") {
		return body
	}
	text := strings.ReplaceAll(body, "</p>", "\n\n")
	text = strings.ReplaceAll(text, "<br>", "\n")
	text = htmlTagStrip.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
