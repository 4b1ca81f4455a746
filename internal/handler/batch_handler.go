package handler

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"

	"github.com/itamarsh/cardledger/internal/domain"
	"github.com/itamarsh/cardledger/internal/service"
	"github.com/itamarsh/cardledger/pkg/logger"
)

type BatchHandler struct {
	service *service.BatchService
	logger  *logger.Logger
}

func NewBatchHandler(svc *service.BatchService, log *logger.Logger) *BatchHandler {
	return &BatchHandler{
		service: svc,
		logger:  log,
	}
}

// Upload accepts a multipart batch of statement files, stages them on disk
// and starts asynchronous processing.
func (h *BatchHandler) Upload(c echo.Context) error {
	ctx := c.Request().Context()

	owner := c.FormValue("owner")
	if owner == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "owner is required",
		})
	}

	// Optional explicit card selection, applied to every file in the batch.
	var userCard *domain.CardInfo
	if last4 := c.FormValue("card_last4"); last4 != "" {
		issuer := c.FormValue("card_issuer")
		if len(last4) != 4 || issuer == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "card_last4 (4 digits) and card_issuer are required together",
			})
		}
		userCard = &domain.CardInfo{Last4: last4, Issuer: issuer}
	}

	form, err := c.MultipartForm()
	if err != nil {
		h.logger.Error(ctx, "Failed to read multipart form", "error", err)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "multipart form with files is required",
		})
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "at least one file is required",
		})
	}

	stageDir, err := os.MkdirTemp("", "cardledger-batch-")
	if err != nil {
		h.logger.Error(ctx, "Failed to create staging directory", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to stage files",
		})
	}

	files := make([]service.UploadedFile, 0, len(fileHeaders))
	for i, fh := range fileHeaders {
		src, err := fh.Open()
		if err != nil {
			h.logger.Error(ctx, "Failed to open uploaded file",
				"filename", fh.Filename,
				"error", err,
			)
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": fmt.Sprintf("failed to open %s", fh.Filename),
			})
		}

		staged := filepath.Join(stageDir, fmt.Sprintf("%d.xlsx", i))
		dst, err := os.Create(staged)
		if err == nil {
			_, err = io.Copy(dst, src)
			dst.Close()
		}
		src.Close()
		if err != nil {
			h.logger.Error(ctx, "Failed to stage uploaded file",
				"filename", fh.Filename,
				"error", err,
			)
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": fmt.Sprintf("failed to stage %s", fh.Filename),
			})
		}

		files = append(files, service.UploadedFile{
			Path:             staged,
			Filename:         fh.Filename,
			UserProvidedCard: userCard,
		})
	}

	batchID, err := h.service.UploadBatch(ctx, owner, files)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to create batch",
		})
	}

	h.logger.Info(ctx, "Batch accepted",
		"batch_id", batchID,
		"file_count", len(files),
	)

	return c.JSON(http.StatusAccepted, map[string]string{
		"batch_id": batchID,
		"status":   string(domain.BatchStatusProcessing),
	})
}

func (h *BatchHandler) GetBatch(c echo.Context) error {
	ctx := c.Request().Context()

	batchID := c.Param("id")
	batch, err := h.service.GetBatch(ctx, batchID)
	if err != nil {
		if err == domain.ErrBatchNotFound {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "batch not found",
			})
		}
		h.logger.Error(ctx, "Failed to get batch",
			"batch_id", batchID,
			"error", err,
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to get batch",
		})
	}

	return c.JSON(http.StatusOK, batch)
}

// GetBatchFiles returns only the per-file results, the operator view for
// skipped files awaiting a user decision.
func (h *BatchHandler) GetBatchFiles(c echo.Context) error {
	ctx := c.Request().Context()

	batchID := c.Param("id")
	batch, err := h.service.GetBatch(ctx, batchID)
	if err != nil {
		if err == domain.ErrBatchNotFound {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "batch not found",
			})
		}
		h.logger.Error(ctx, "Failed to get batch files",
			"batch_id", batchID,
			"error", err,
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to get batch",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"batch_id": batch.ID,
		"files":    batch.Files,
	})
}
