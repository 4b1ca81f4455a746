package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/itamarsh/cardledger/internal/detector"
	"github.com/itamarsh/cardledger/internal/domain"
	"github.com/itamarsh/cardledger/pkg/logger"
)

// CardHandler covers the registration consent path: after a NEW_CARD
// detection outcome the user confirms and the card is stored.
type CardHandler struct {
	detector *detector.Service
	logger   *logger.Logger
}

func NewCardHandler(det *detector.Service, log *logger.Logger) *CardHandler {
	return &CardHandler{
		detector: det,
		logger:   log,
	}
}

type registerCardRequest struct {
	Owner  string `json:"owner"`
	Last4  string `json:"last4"`
	Issuer string `json:"issuer"`
}

func (h *CardHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()

	var req registerCardRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}
	if req.Owner == "" || len(req.Last4) != 4 || req.Issuer == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "owner, last4 (4 digits) and issuer are required",
		})
	}

	cardID, err := h.detector.RegisterCard(ctx, req.Owner, domain.CardInfo{
		Last4:  req.Last4,
		Issuer: req.Issuer,
	})
	if err != nil {
		h.logger.Error(ctx, "Failed to register card",
			"last4", req.Last4,
			"error", err,
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to register card",
		})
	}

	h.logger.Info(ctx, "Card registered",
		"card_id", cardID,
		"last4", req.Last4,
		"issuer", req.Issuer,
	)

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"card_id": cardID,
	})
}
