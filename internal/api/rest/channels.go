package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenSynthCore/internal/auth"
	"github.com/KevinKickass/OpenSynthCore/internal/synth"
	"github.com/KevinKickass/OpenSynthCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/channels
func (s *Server) listChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": s.lm.MachineController().Channels()})
}

// PUT /api/v1/channels/:channel
func (s *Server) updateChannel(c *gin.Context) {
	ch, err := synth.ParseChannel(c.Param("channel"))
	if err != nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("CHANNEL_404", "Unknown channel", err.Error()))
		return
	}

	var req types.ChannelUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("CHANNEL_400", "Invalid request body", err.Error()))
		return
	}

	state, err := s.lm.MachineController().UpdateChannel(c.Request.Context(), ch, req)
	if err != nil {
		s.logger.Warn("Channel update rejected",
			zap.Stringer("channel", ch),
			zap.String("subject", auth.Subject(c)),
			zap.Error(err))
		s.machineError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}
