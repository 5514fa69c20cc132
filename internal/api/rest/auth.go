package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/auth"
	"github.com/KevinKickass/OpenSynthCore/internal/types"
	"github.com/gin-gonic/gin"
)

// Login request/response types
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// Auth handlers
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("AUTH_400", "Invalid request body", err.Error()))
		return
	}

	accessToken, expiresAt, err := s.authService.LoginUser(
		req.Username,
		req.Password,
		c.ClientIP(),
		c.GetHeader("User-Agent"),
	)
	if err != nil {
		msg := "Invalid credentials"
		if errors.Is(err, auth.ErrAccountLocked) {
			msg = "Account locked"
		}
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse("AUTH_401", msg, nil))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expiresAt).Seconds()),
	})
}

func (s *Server) getCurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"subject":     auth.Subject(c),
		"role":        c.GetString("role"),
		"permissions": auth.Permissions(c),
	})
}
