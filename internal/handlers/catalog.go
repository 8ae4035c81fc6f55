package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/config"
	"storefront/internal/models"
)

// The catalog itself is owned elsewhere; this read surface exists so clients
// can browse what the cart and checkout will validate against.

func GetProducts(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /products"
		defer handlePanic(c, route)

		if err := ensureDBConnection(c.Request.Context(), db); err != nil {
			respondWithError(c, http.StatusServiceUnavailable, route, codeInternal, "database unavailable")
			return
		}

		filter := bson.M{
			"isActive":  bson.M{"$ne": false},
			"isDeleted": bson.M{"$ne": true},
		}

		if search := strings.TrimSpace(c.Query("search")); search != "" {
			filter["name"] = bson.M{"$regex": search, "$options": "i"}
		}

		findOptions := options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: -1}})

		// Pagination applies only when both params are present.
		pageStr := c.Query("page")
		limitStr := c.Query("limit")
		if pageStr != "" && limitStr != "" {
			page, limit, err := parsePaginationParams(pageStr, limitStr)
			if err != nil {
				respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid pagination params")
				return
			}
			findOptions.
				SetSkip((page - 1) * limit).
				SetLimit(limit)
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.AppEnv.RequestTimeout)
		defer cancel()

		cursor, err := db.Collection("products").Find(ctx, filter, findOptions)
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}
		defer cursor.Close(ctx)

		products := []models.Product{}
		if err := cursor.All(ctx, &products); err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "decode error")
			return
		}
		for i := range products {
			products[i].ComputeDerived()
		}

		log.Printf("[%s] returning %d products", route, len(products))
		respondSuccess(c, http.StatusOK, "products", gin.H{"products": products})
	}
}

func GetProduct(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /products/:id"
		defer handlePanic(c, route)

		productID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, codeValidation, "invalid id")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.AppEnv.RequestTimeout)
		defer cancel()

		product, err := loadActiveProduct(ctx, db, productID)
		if err == mongo.ErrNoDocuments {
			respondWithError(c, http.StatusNotFound, route, codeNotFound, "product not found")
			return
		}
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, codeInternal, "db error")
			return
		}

		respondSuccess(c, http.StatusOK, "product", gin.H{"product": product})
	}
}
