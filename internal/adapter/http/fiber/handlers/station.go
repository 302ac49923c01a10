package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/evpower/csms/internal/ports"
)

type StationHandler struct {
	directory ports.StationDirectory
	log       *zap.Logger
}

func NewStationHandler(directory ports.StationDirectory, log *zap.Logger) *StationHandler {
	return &StationHandler{directory: directory, log: log}
}

func (h *StationHandler) Status(c *fiber.Ctx) error {
	station, err := h.directory.StationStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(station)
}
