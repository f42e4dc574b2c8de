package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"

	"ocrpdf/internal/ocrmypdf"
	u "ocrpdf/internal/utils"
)

// OCRService bundles configuration and process-lifetime counters for the
// OCR endpoints.
type OCRService struct {
	Config *u.Config

	requests atomic.Int64
	succeeded atomic.Int64
	failed   atomic.Int64
	timedOut atomic.Int64
	inFlight atomic.Int64
}

// NewOCRService creates a new OCRService instance.
func NewOCRService(cfg u.Config) *OCRService {
	return &OCRService{Config: &cfg}
}

// HandleHealth implements the liveness probe.
func (svc *OCRService) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// HandleOCR accepts a multipart PDF upload, runs it through ocrmypdf and
// returns the processed document. Tool failures become 422 responses carrying
// the tool's diagnostics, timeouts become 504.
func (svc *OCRService) HandleOCR(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Missing multipart file field 'file'")
	}
	if header.Size == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "Uploaded file is empty")
	}

	f, err := header.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Cannot open uploaded file: "+err.Error())
	}
	contents, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Cannot read uploaded file: "+err.Error())
	}

	svc.requests.Add(1)
	svc.inFlight.Add(1)
	defer svc.inFlight.Add(-1)

	requestID := c.Get("X-Request-ID")
	if requestID == "" {
		requestID = c.GetRespHeader("X-Request-ID")
	}

	// No caller-initiated cancellation: the only way out of the subprocess
	// wait is the configured timeout.
	out, err := ocrmypdf.Run(context.Background(), *svc.Config, contents)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			svc.timedOut.Add(1)
			u.Error("OCR timed out", "timeout_secs", svc.Config.OCR.TimeoutSecs, "filename", header.Filename, "request_id", requestID)
			return c.Status(fiber.StatusGatewayTimeout).Type("txt").
				SendString(fmt.Sprintf("ocrmypdf timed out after %d seconds", svc.Config.OCR.TimeoutSecs))
		}
		var toolErr *ocrmypdf.ToolError
		if errors.As(err, &toolErr) {
			svc.failed.Add(1)
			u.Warn("OCR tool failed", "exit_code", toolErr.ExitCode, "filename", header.Filename, "request_id", requestID)
			return c.Status(fiber.StatusUnprocessableEntity).Type("txt").
				SendString(toolErr.Error())
		}
		svc.failed.Add(1)
		u.Error("OCR processing failed", "error", err.Error(), "request_id", requestID)
		return fiber.NewError(fiber.StatusInternalServerError, "OCR processing failed: "+err.Error())
	}

	svc.succeeded.Add(1)
	u.Info("PDF processed", "filename", header.Filename, "bytes_in", header.Size, "bytes_out", len(out), "request_id", requestID)

	c.Set("Content-Type", "application/pdf")
	return c.Send(out)
}

// HandleStats exposes process-lifetime counters for the OCR endpoint.
func (svc *OCRService) HandleStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"requests":     svc.requests.Load(),
		"succeeded":    svc.succeeded.Load(),
		"failed":       svc.failed.Load(),
		"timed_out":    svc.timedOut.Load(),
		"in_flight":    svc.inFlight.Load(),
		"timeout_secs": svc.Config.OCR.TimeoutSecs,
		"binary":       svc.Config.OCR.Binary,
	})
}
