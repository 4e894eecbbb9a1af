package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/merchforge/lattice/internal/validation"
	"github.com/merchforge/lattice/pkg/models"
)

// InteractionAppender is the write side of the interaction feed.
type InteractionAppender interface {
	AppendEvent(ctx context.Context, ev models.InteractionEvent) error
}

// InteractionPublisher mirrors accepted events onto the interaction
// topic. Optional; nil disables publishing.
type InteractionPublisher interface {
	Publish(ctx context.Context, ev models.InteractionEvent) error
}

type InteractionHandler struct {
	appender  InteractionAppender
	publisher InteractionPublisher
	validator *validator.Validate
	schema    *validation.InteractionValidator
	logger    *logrus.Logger
}

func NewInteractionHandler(
	appender InteractionAppender,
	publisher InteractionPublisher,
	schema *validation.InteractionValidator,
	logger *logrus.Logger,
) *InteractionHandler {
	return &InteractionHandler{
		appender:  appender,
		publisher: publisher,
		validator: validator.New(),
		schema:    schema,
		logger:    logger,
	}
}

// Track appends one interaction event to the feed, write-through. The
// event only influences rankings after the next rebuild cycle.
func (h *InteractionHandler) Track(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Unable to read request body",
			},
		})
		return
	}

	if schemaErrs, err := h.schema.Validate(body); err != nil || len(schemaErrs) > 0 {
		if err != nil {
			h.logger.WithError(err).Error("Interaction schema validation errored")
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "SCHEMA_VALIDATION_FAILED",
				"message": "Interaction payload does not match schema",
				"details": schemaErrs,
			},
		})
		return
	}

	var req models.TrackInteractionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid request format",
				"details": err.Error(),
			},
		})
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Request validation failed",
				"details": err.Error(),
			},
		})
		return
	}

	ev := models.InteractionEvent{
		ID:        uuid.New(),
		ActorID:   req.ActorID,
		ProductID: req.ProductID,
		Kind:      req.Kind,
		Timestamp: time.Now().UTC(),
	}
	if req.Source != "" || req.Query != "" || req.Referrer != "" || req.Duration != nil || req.Position != nil {
		ev.Context = &models.InteractionContext{
			Source:      req.Source,
			SearchQuery: req.Query,
			ReferrerURL: req.Referrer,
			Duration:    req.Duration,
			Position:    req.Position,
		}
	}

	if err := h.appender.AppendEvent(c.Request.Context(), ev); err != nil {
		h.logger.WithError(err).Error("Failed to append interaction event")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERACTION_FAILED",
				"message": "Failed to record interaction",
			},
		})
		return
	}

	if h.publisher != nil {
		if err := h.publisher.Publish(c.Request.Context(), ev); err != nil {
			// The feed row is the source of truth; a publish failure is
			// operational noise, not a client error.
			h.logger.WithError(err).Warn("Failed to publish interaction event")
		}
	}

	h.logger.WithFields(logrus.Fields{
		"event_id":   ev.ID,
		"actor_id":   ev.ActorID,
		"product_id": ev.ProductID,
		"kind":       ev.Kind,
	}).Info("Recorded interaction")

	c.JSON(http.StatusCreated, gin.H{
		"data":    ev,
		"message": "Interaction recorded",
	})
}
