package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shinyadventure/coverletter-backend/internal/platform/logger"
	"github.com/shinyadventure/coverletter-backend/internal/platform/sendgrid"
	"github.com/shinyadventure/coverletter-backend/internal/types"
)

const (
	mimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimePDF  = "application/pdf"
)

// MailerService delivers the finished letter. Delivery is at-least-once and
// best-effort from the pipeline's point of view: a send failure is logged and
// never changes the application's status.
type MailerService interface {
	SendGenerated(ctx context.Context, app *types.Application, docxAbsPath, pdfAbsPath string) error
}

type mailerService struct {
	log    *logger.Logger
	client sendgrid.Client
}

func NewMailerService(log *logger.Logger, client sendgrid.Client) MailerService {
	return &mailerService{
		log:    log.With("service", "MailerService"),
		client: client,
	}
}

func (m *mailerService) SendGenerated(ctx context.Context, app *types.Application, docxAbsPath, pdfAbsPath string) error {
	if m.client == nil {
		return fmt.Errorf("mail client not configured")
	}
	if app == nil || app.Email == "" {
		return fmt.Errorf("missing recipient")
	}

	req := sendgrid.SendEmailRequest{
		To:      []sendgrid.EmailAddress{{Email: app.Email, Name: app.Name}},
		Subject: "Your generated application",
		Text:    app.Body,
		HTML:    EnsureHTML(app.Body, app.Name),
	}

	stamp := time.Now().Format("20060102_150405")
	if docxAbsPath != "" {
		if data, err := os.ReadFile(docxAbsPath); err == nil {
			req.Attachments = append(req.Attachments, sendgrid.Attachment{
				Filename: "application_" + stamp + ".docx",
				MIMEType: mimeDocx,
				Content:  data,
			})
		} else {
			m.log.Warn("Could not read DOCX attachment", "path", docxAbsPath, "error", err)
		}
	}
	if pdfAbsPath != "" {
		if data, err := os.ReadFile(pdfAbsPath); err == nil {
			req.Attachments = append(req.Attachments, sendgrid.Attachment{
				Filename: "application_" + stamp + ".pdf",
				MIMEType: mimePDF,
				Content:  data,
			})
		} else {
			m.log.Warn("Could not read PDF attachment", "path", pdfAbsPath, "error", err)
		}
	}

	result, err := m.client.Send(ctx, req)
	if err != nil {
		return err
	}
	m.log.Info("Generated application emailed",
		"application_id", app.ID,
		"status_code", result.StatusCode,
	)
	return nil
}
