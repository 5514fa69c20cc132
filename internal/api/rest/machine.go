package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenSynthCore/internal/auth"
	"github.com/KevinKickass/OpenSynthCore/internal/bitbang"
	"github.com/KevinKickass/OpenSynthCore/internal/machine"
	"github.com/KevinKickass/OpenSynthCore/internal/regmap"
	"github.com/KevinKickass/OpenSynthCore/internal/synth"
	"github.com/KevinKickass/OpenSynthCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/machine/status
func (s *Server) getMachineStatus(c *gin.Context) {
	status := s.lm.MachineController().GetStatus()
	c.JSON(http.StatusOK, status)
}

// POST /api/v1/machine/command
func (s *Server) executeMachineCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MACHINE_400", "Invalid request body", err.Error()))
		return
	}

	cmd, err := machine.ParseCommand(req.Command)
	if err != nil {
		s.machineError(c, err)
		return
	}

	// Closing releases the adapter until restart
	if cmd == machine.CommandClose && !auth.HasPermission(auth.Permissions(c), auth.PermAdmin) {
		c.JSON(http.StatusForbidden, types.NewErrorResponse("MACHINE_403", "close requires admin", nil))
		return
	}

	ctrl := s.lm.MachineController()
	if err := ctrl.ExecuteCommand(c.Request.Context(), cmd); err != nil {
		s.logger.Error("Machine command failed",
			zap.String("command", req.Command),
			zap.String("subject", auth.Subject(c)),
			zap.Error(err))
		s.machineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"command": cmd,
		"state":   ctrl.State(),
	})
}

// machineError maps controller and hardware errors onto HTTP responses.
func (s *Server) machineError(c *gin.Context, err error) {
	var verr *synth.VerifyError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("MACHINE_VERIFY", err.Error(), types.Mismatch{
			Chip:     verr.Chip.String(),
			Address:  verr.Address,
			Expected: verr.Expected,
			Actual:   verr.Actual,
		}))
	case errors.Is(err, machine.ErrInvalidState):
		c.JSON(http.StatusConflict, types.NewErrorResponse("MACHINE_409", "Command not allowed in current state", err.Error()))
	case errors.Is(err, machine.ErrNoRecorder):
		c.JSON(http.StatusConflict, types.NewErrorResponse("MACHINE_409", "No stored channel settings", err.Error()))
	case errors.Is(err, machine.ErrUnknownCommand),
		errors.Is(err, machine.ErrEmptyUpdate),
		errors.Is(err, synth.ErrOutOfRange),
		errors.Is(err, bitbang.ErrFieldOverflow),
		errors.Is(err, regmap.ErrInvalidPage):
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MACHINE_400", "Invalid request", err.Error()))
	case errors.Is(err, synth.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("MACHINE_503", "Hardware closed", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("MACHINE_500", "Hardware access failed", err.Error()))
	}
}
