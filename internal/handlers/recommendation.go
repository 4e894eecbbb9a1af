package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/merchforge/lattice/internal/engine"
	"github.com/merchforge/lattice/pkg/models"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

type RecommendationHandler struct {
	recommender Recommender
	logger      *logrus.Logger
}

func NewRecommendationHandler(recommender Recommender, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{recommender: recommender, logger: logger}
}

func (h *RecommendationHandler) Similar(c *gin.Context) {
	productID, ok := parseSubjectID(c, "productId", "INVALID_PRODUCT_ID")
	if !ok {
		return
	}
	k, exclude := parseListParams(c)

	products, cacheHit, err := h.recommender.SimilarProducts(c.Request.Context(), productID, k, exclude)
	if err != nil {
		h.respondError(c, err, "similar_products", productID)
		return
	}
	respond(c, "similar_products", &productID, products, cacheHit)
}

func (h *RecommendationHandler) Personalized(c *gin.Context) {
	customerID, ok := parseSubjectID(c, "customerId", "INVALID_CUSTOMER_ID")
	if !ok {
		return
	}
	k, exclude := parseListParams(c)

	products, cacheHit, err := h.recommender.Personalized(c.Request.Context(), customerID, k, exclude)
	if err != nil {
		h.respondError(c, err, "personalized", customerID)
		return
	}
	respond(c, "personalized", &customerID, products, cacheHit)
}

func (h *RecommendationHandler) Trending(c *gin.Context) {
	k, exclude := parseListParams(c)

	var window time.Duration
	if daysStr := c.Query("days"); daysStr != "" {
		days, err := strconv.Atoi(daysStr)
		if err != nil || days <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_WINDOW",
					"message": "days must be a positive integer",
				},
			})
			return
		}
		window = time.Duration(days) * 24 * time.Hour
	}

	products, cacheHit, err := h.recommender.Trending(c.Request.Context(), window, k, exclude)
	if err != nil {
		h.respondError(c, err, "trending", uuid.Nil)
		return
	}
	respond(c, "trending", nil, products, cacheHit)
}

func (h *RecommendationHandler) FrequentlyBoughtTogether(c *gin.Context) {
	productID, ok := parseSubjectID(c, "productId", "INVALID_PRODUCT_ID")
	if !ok {
		return
	}
	k, exclude := parseListParams(c)

	products, cacheHit, err := h.recommender.FrequentlyBoughtTogether(c.Request.Context(), productID, k, exclude)
	if err != nil {
		h.respondError(c, err, "frequently_bought_together", productID)
		return
	}
	respond(c, "frequently_bought_together", &productID, products, cacheHit)
}

func (h *RecommendationHandler) RecentlyViewed(c *gin.Context) {
	customerID, ok := parseSubjectID(c, "customerId", "INVALID_CUSTOMER_ID")
	if !ok {
		return
	}
	k, exclude := parseListParams(c)

	products, cacheHit, err := h.recommender.RecentlyViewed(c.Request.Context(), customerID, k, exclude)
	if err != nil {
		h.respondError(c, err, "recently_viewed", customerID)
		return
	}
	respond(c, "recently_viewed", &customerID, products, cacheHit)
}

func (h *RecommendationHandler) respondError(c *gin.Context, err error, op string, subject uuid.UUID) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    "SUBJECT_NOT_FOUND",
				"message": "Unknown product or customer id",
			},
			"products": []models.ScoredProduct{},
		})
	case errors.Is(err, engine.ErrNoGeneration):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": gin.H{
				"code":    "ENGINE_WARMING",
				"message": "No index generation published yet, retry shortly",
			},
		})
	default:
		h.logger.WithError(err).WithFields(logrus.Fields{
			"operation": op,
			"subject":   subject,
		}).Error("Ranking operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "RECOMMENDATION_FAILED",
				"message": "Failed to generate recommendations",
			},
		})
	}
}

func respond(c *gin.Context, op string, subject *uuid.UUID, products []models.ScoredProduct, cacheHit bool) {
	if products == nil {
		products = []models.ScoredProduct{}
	}
	c.JSON(http.StatusOK, models.RecommendationResponse{
		Operation:   op,
		SubjectID:   subject,
		Products:    products,
		GeneratedAt: time.Now().UTC(),
		CacheHit:    cacheHit,
	})
}

func parseSubjectID(c *gin.Context, param, errCode string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    errCode,
				"message": "Invalid id format",
			},
		})
		return uuid.Nil, false
	}
	return id, true
}

func parseListParams(c *gin.Context) (int, []uuid.UUID) {
	k := defaultLimit
	if kStr := c.Query("k"); kStr != "" {
		if parsed, err := strconv.Atoi(kStr); err == nil && parsed > 0 && parsed <= maxLimit {
			k = parsed
		}
	}

	var exclude []uuid.UUID
	if excludeStr := c.Query("exclude"); excludeStr != "" {
		for _, part := range strings.Split(excludeStr, ",") {
			if id, err := uuid.Parse(strings.TrimSpace(part)); err == nil {
				exclude = append(exclude, id)
			}
		}
	}

	return k, exclude
}
