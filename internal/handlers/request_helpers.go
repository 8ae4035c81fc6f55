package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Machine-readable error codes carried on every failure response.
const (
	codeValidation        = "validation_error"
	codeNotFound          = "not_found"
	codeInvalidTransition = "invalid_transition"
	codeConflict          = "conflict"
	codeUnauthorized      = "unauthorized"
	codeInsufficientStock = "insufficient_stock"
	codePaymentProcessor  = "payment_processor_error"
	codeInternal          = "internal_error"
)

func handlePanic(c *gin.Context, route string) {
	if r := recover(); r != nil {
		log.Printf("[%s] panic recovered: %v", route, r)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   codeInternal,
			"message": "internal server error",
		})
	}
}

func ensureDBConnection(ctx context.Context, db *mongo.Database) error {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return db.Client().Ping(checkCtx, readpref.Primary())
}

func respondWithError(c *gin.Context, status int, route, code, message string) {
	log.Printf("[%s] returning error %d (%s): %s", route, status, code, message)
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   code,
		"message": message,
	})
}

// respondWithDetails is respondWithError plus extra machine-readable fields,
// e.g. per-item stock violations.
func respondWithDetails(c *gin.Context, status int, route, code, message string, details gin.H) {
	log.Printf("[%s] returning error %d (%s): %s", route, status, code, message)
	body := gin.H{
		"success": false,
		"error":   code,
		"message": message,
	}
	for k, v := range details {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}

func respondSuccess(c *gin.Context, status int, message string, data gin.H) {
	body := gin.H{
		"success": true,
		"message": message,
	}
	for k, v := range data {
		body[k] = v
	}
	c.JSON(status, body)
}
