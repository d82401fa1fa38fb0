package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"onair.fm/tipjar/internal/common"
)

const claimsKey = "operator"

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	token, expires, err := s.deps.Operators.Login(c.Request.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expires})
	case errors.Is(err, common.ErrTooManyAttempts):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	default:
		log.WithError(err).Error("Operator login failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// requireOperator accepts "Authorization: Bearer <token>".
func (s *Server) requireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := s.deps.Operators.ParseToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(claimsKey, claims.Username)
		c.Next()
	}
}

func (s *Server) handleResync(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := s.requestContext(c)
	defer cancel()

	report, err := s.deps.Reconciler.Resync(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrBroadcasterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "broadcaster not found"})
			return
		}
		log.WithError(err).WithField("broadcaster_id", id).Error("Resync failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resync failed", "report": report})
		return
	}

	log.WithFields(log.Fields{
		"operator":       c.GetString(claimsKey),
		"broadcaster_id": id,
		"transferred":    report.Transferred,
		"failed":         report.Failed,
	}).Info("Operator resync")
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleGetTip(c *gin.Context) {
	t, err := s.deps.Ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, common.ErrTipNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tip not found"})
			return
		}
		log.WithError(err).Error("Tip lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, newTipView(t))
}
