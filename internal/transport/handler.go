package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go-cert-verifier/internal/config"
	apperrors "go-cert-verifier/internal/errors"
	"go-cert-verifier/internal/logger"
	"go-cert-verifier/internal/service"
	"go-cert-verifier/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func NewHandler(svc service.VerificationService, cfg *config.Config) http.Handler {
	r := gin.Default()

	// Add middleware
	r.Use(
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	// Configure routes
	r.GET("/health", healthCheck)
	r.POST("/verify", verifyCertificate(svc, cfg))
	r.POST("/verify/batch", verifyBatch(svc, cfg))

	r.GET("/stats", getStats(svc))
	r.GET("/stats/recommendations", getRecommendations(svc))
	r.GET("/stats/export", exportStats(svc))
	r.POST("/stats/reset", resetStats(svc))

	r.GET("/cache/stats", getCacheStats(svc))
	r.POST("/cache/clear", clearCache(svc))
	r.POST("/cache/clear-expired", clearExpiredCache(svc))

	return r
}

func verifyCertificate(svc service.VerificationService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.VerifyTimeout)
		defer cancel()

		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"user_agent": c.Request.UserAgent(),
			"ip":         c.ClientIP(),
		}).Info("Processing verification request")

		var req models.VerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"ip": c.ClientIP(),
			}).Error("Invalid request format")
			respondError(c, http.StatusBadRequest, "invalid request format", err)
			return
		}

		result, err := svc.VerifyCertificate(ctx, req)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "verification failed", err)
			return
		}

		logger.WithFields(logrus.Fields{
			"passed":             result.Passed,
			"attempts_used":      result.AttemptsUsed,
			"used_cache":         result.UsedCache,
			"processing_time_ms": time.Since(startTime).Milliseconds(),
		}).Info("Verification completed")

		c.JSON(http.StatusOK, result)
	}
}

func verifyBatch(svc service.VerificationService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		var req models.BatchVerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request format", err)
			return
		}

		logger.WithFields(logrus.Fields{
			"items": len(req.Items),
			"ip":    c.ClientIP(),
		}).Info("Processing batch verification request")

		response, err := svc.VerifyBatch(ctx, req)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "batch verification failed", err)
			return
		}

		c.JSON(http.StatusOK, response)
	}
}

func getStats(svc service.VerificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.StatsSummary())
	}
}

func getRecommendations(svc service.VerificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"recommendations": svc.Recommendations(),
		})
	}
}

func exportStats(svc service.VerificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := svc.ExportStats()
		if err != nil {
			respondError(c, http.StatusInternalServerError, "stats export failed", err)
			return
		}
		c.Data(http.StatusOK, "application/json", data)
	}
}

func resetStats(svc service.VerificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		svc.ResetStats()
		c.JSON(http.StatusOK, gin.H{"status": "reset"})
	}
}

func getCacheStats(svc service.VerificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.CacheStats())
	}
}

func clearCache(svc service.VerificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		svc.ClearCache()
		c.JSON(http.StatusOK, gin.H{"status": "cleared"})
	}
}

func clearExpiredCache(svc service.VerificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		removed := svc.ClearExpiredCache()
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": "1.0.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last()
			respondError(c, determineStatusCode(err), "request processing failed", err)
		}
	}
}

func determineStatusCode(err error) int {
	// Check if it's a custom app error first
	if appErr, ok := err.(*apperrors.AppError); ok {
		return appErr.StatusCode
	}

	// Fallback to context-based errors
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, code int, message string, err error) {
	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("Request failed")

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: fmt.Sprintf("%s: %v", message, err),
	})
}
