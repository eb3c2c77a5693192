package messages

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	registryrealtime "github.com/chirino/chat-service/internal/registry/realtime"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts message routes.
func MountRoutes(r *gin.Engine, store registrystore.ChatStore, broker registryrealtime.Broker, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.POST("/messages", func(c *gin.Context) {
		sendMessage(c, store, broker)
	})
	g.POST("/messages/delivered", func(c *gin.Context) {
		markDelivered(c, store)
	})
	g.DELETE("/messages/:messageId", func(c *gin.Context) {
		deleteMessage(c, store)
	})
	g.GET("/conversations/:conversationId/messages", func(c *gin.Context) {
		listMessages(c, store)
	})
	g.POST("/conversations/:conversationId/read", func(c *gin.Context) {
		markRead(c, store)
	})
	g.GET("/conversations/:conversationId/events", func(c *gin.Context) {
		streamEvents(c, store, broker)
	})
}

func sendMessage(c *gin.Context, store registrystore.ChatStore, broker registryrealtime.Broker) {
	userID := security.GetUserID(c)

	var req registrystore.NewMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := store.SendMessage(c.Request.Context(), userID, req)
	if err != nil {
		handleError(c, err)
		return
	}
	security.MessagesSentTotal.Inc()

	// Claim the uploaded media for this message so the orphan sweep skips it.
	if key, ok := attachmentStorageKey(req.MediaURL); ok {
		if err := store.LinkAttachments(c.Request.Context(), userID, msg.ID, []string{key}); err != nil {
			log.Warn("Failed to link attachment to message", "messageId", msg.ID.String(), "err", err)
		}
	}

	// Delivery is best-effort: the message is already persisted and offline
	// clients catch up through the history endpoint.
	channel := registryrealtime.ConversationChannel(msg.ConversationID)
	if err := broker.Publish(c.Request.Context(), channel, registryrealtime.EventNewMessage, msg); err != nil {
		security.RealtimePublishFailures.Inc()
		log.Warn("Failed to publish message event", "conversationId", msg.ConversationID.String(), "err", err)
	}

	c.JSON(http.StatusCreated, msg)
}

// attachmentStorageKey extracts the storage key from a mediaUrl that points
// back at this service's attachment endpoint. External URLs return false.
func attachmentStorageKey(mediaURL *string) (string, bool) {
	if mediaURL == nil {
		return "", false
	}
	key, ok := strings.CutPrefix(*mediaURL, "/v1/attachments/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

func listMessages(c *gin.Context, store registrystore.ChatStore) {
	userID := security.GetUserID(c)
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}

	afterCursor := queryPtr(c, "afterCursor")
	limit := queryInt(c, "limit", 0)

	page, err := store.GetMessages(c.Request.Context(), userID, convID, afterCursor, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func deleteMessage(c *gin.Context, store registrystore.ChatStore) {
	userID := security.GetUserID(c)
	msgID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "message not found"})
		return
	}

	msg, err := store.DeleteMessage(c.Request.Context(), userID, msgID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func markDelivered(c *gin.Context, store registrystore.ChatStore) {
	userID := security.GetUserID(c)

	var req struct {
		MessageIDs []string `json:"messageIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.MessageIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "at least one message id required"})
		return
	}
	ids := make([]uuid.UUID, 0, len(req.MessageIDs))
	for _, raw := range req.MessageIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid message id"})
			return
		}
		ids = append(ids, id)
	}

	updated, err := store.MarkDelivered(c.Request.Context(), userID, ids)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func markRead(c *gin.Context, store registrystore.ChatStore) {
	userID := security.GetUserID(c)
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}

	updated, err := store.MarkRead(c.Request.Context(), userID, convID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// streamEvents relays conversation events to the client as server-sent
// events. Membership is checked once at subscribe time.
func streamEvents(c *gin.Context, store registrystore.ChatStore, broker registryrealtime.Broker) {
	userID := security.GetUserID(c)
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}

	if _, err := store.GetConversation(c.Request.Context(), userID, convID); err != nil {
		handleError(c, err)
		return
	}

	sub, err := broker.Subscribe(c.Request.Context(), registryrealtime.ConversationChannel(convID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	// Flush the headers now so the client knows the subscription is live
	// before the first event arrives.
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(event.Name, event.Payload)
			return true
		}
	})
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func queryPtr(c *gin.Context, key string) *string {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	return &v
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
