package handlers

import (
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shinyadventure/coverletter-backend/internal/platform/logger"
	"github.com/shinyadventure/coverletter-backend/internal/services"
)

type ApplicationHandler struct {
	log                *logger.Logger
	applicationService services.ApplicationService
}

func NewApplicationHandler(baseLog *logger.Logger, asvc services.ApplicationService) *ApplicationHandler {
	return &ApplicationHandler{
		log:                baseLog.With("handler", "ApplicationHandler"),
		applicationService: asvc,
	}
}

// POST /api/applications
// Multipart submission: name, email, notes, amount_cents plus optional
// files[] and images[]. Returns 202 with the pending record; generation
// happens in the worker.
func (h *ApplicationHandler) Submit(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_multipart", err)
		return
	}

	amountCents := 0
	if raw := c.PostForm("amount_cents"); raw != "" {
		amountCents, err = strconv.Atoi(raw)
		if err != nil {
			RespondError(c, http.StatusUnprocessableEntity, "invalid_amount", err)
			return
		}
	}

	in := services.SubmitInput{
		Name:        c.PostForm("name"),
		Email:       c.PostForm("email"),
		Notes:       c.PostForm("notes"),
		AmountCents: amountCents,
	}

	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, fh := range formFiles(form, "files") {
		f, oErr := fh.Open()
		if oErr != nil {
			RespondError(c, http.StatusBadRequest, "bad_upload", oErr)
			return
		}
		opened = append(opened, f)
		in.Files = append(in.Files, services.UploadInput{Filename: fh.Filename, Size: fh.Size, Reader: f})
	}
	for _, fh := range formFiles(form, "images") {
		f, oErr := fh.Open()
		if oErr != nil {
			RespondError(c, http.StatusBadRequest, "bad_upload", oErr)
			return
		}
		opened = append(opened, f)
		in.Images = append(in.Images, services.UploadInput{Filename: fh.Filename, Size: fh.Size, Reader: f})
	}

	app, err := h.applicationService.Submit(c.Request.Context(), in)
	if err != nil {
		RespondServiceError(c, "submit_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"application": app})
}

// GET /api/applications
func (h *ApplicationHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	apps, err := h.applicationService.List(c.Request.Context(), limit, offset)
	if err != nil {
		RespondServiceError(c, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"applications": apps})
}

// GET /api/applications/:id
func (h *ApplicationHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	app, err := h.applicationService.Get(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, "get_failed", err)
		return
	}
	RespondOK(c, gin.H{"application": app})
}

// GET /api/applications/:id/download/:kind (txt|docx|pdf)
func (h *ApplicationHandler) Download(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	abs, filename, err := h.applicationService.DownloadPath(c.Request.Context(), id, c.Param("kind"))
	if err != nil {
		RespondServiceError(c, "download_failed", err)
		return
	}
	c.FileAttachment(abs, filename)
}

// DELETE /api/applications/:id
func (h *ApplicationHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	if err := h.applicationService.Delete(c.Request.Context(), id); err != nil {
		RespondServiceError(c, "delete_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// formFiles accepts both "files" and "files[]" field names.
func formFiles(form *multipart.Form, field string) []*multipart.FileHeader {
	if form == nil {
		return nil
	}
	if fhs := form.File[field]; len(fhs) > 0 {
		return fhs
	}
	return form.File[field+"[]"]
}
