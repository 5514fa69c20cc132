package rest

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenSynthCore/internal/auth"
	"github.com/KevinKickass/OpenSynthCore/internal/synth"
	"github.com/KevinKickass/OpenSynthCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerWriteRequest struct {
	Value *uint32 `json:"value" binding:"required"`
}

// registerTarget parses :chip and :address. The address takes a 0x prefix
// for hex, otherwise decimal.
func registerTarget(c *gin.Context) (synth.Chip, uint32, error) {
	chip, err := synth.ParseChip(c.Param("chip"))
	if err != nil {
		return 0, 0, err
	}
	addr, err := strconv.ParseUint(c.Param("address"), 0, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid register address %q", c.Param("address"))
	}
	return chip, uint32(addr), nil
}

// GET /api/v1/registers/:chip/:address
func (s *Server) readRegister(c *gin.Context) {
	chip, addr, err := registerTarget(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("REGISTER_400", "Invalid register", err.Error()))
		return
	}

	value, err := s.lm.MachineController().ReadRegister(chip, addr)
	if err != nil {
		s.machineError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.RegisterValue{Chip: chip.String(), Address: addr, Value: value})
}

// PUT /api/v1/registers/:chip/:address
func (s *Server) writeRegister(c *gin.Context) {
	chip, addr, err := registerTarget(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("REGISTER_400", "Invalid register", err.Error()))
		return
	}

	var req registerWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("REGISTER_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.lm.MachineController().WriteRegister(chip, addr, *req.Value); err != nil {
		s.machineError(c, err)
		return
	}

	s.logger.Debug("Raw register write requested", zap.String("subject", auth.Subject(c)))

	c.JSON(http.StatusOK, types.RegisterValue{Chip: chip.String(), Address: addr, Value: *req.Value})
}
