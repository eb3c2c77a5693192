package attachments

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registryattach "github.com/chirino/chat-service/internal/registry/attach"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
)

// MountRoutes mounts attachment routes.
func MountRoutes(r *gin.Engine, store registrystore.ChatStore, attachStore registryattach.AttachmentStore, cfg *config.Config, auth gin.HandlerFunc) {
	if attachStore == nil {
		return
	}

	v1 := r.Group("/v1", auth)
	v1.POST("/attachments", func(c *gin.Context) {
		upload(c, store, attachStore, cfg)
	})
	v1.GET("/attachments/:storageKey", func(c *gin.Context) {
		download(c, store, attachStore, cfg)
	})
}

func upload(c *gin.Context, store registrystore.ChatStore, attachStore registryattach.AttachmentStore, cfg *config.Config) {
	userID := security.GetUserID(c)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	result, err := attachStore.Store(c.Request.Context(), file, cfg.AttachmentMaxSize, contentType)
	if err != nil {
		if strings.Contains(err.Error(), "maximum size") {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	attachment, err := store.CreateAttachment(c.Request.Context(), model.Attachment{
		StorageKey:  result.StorageKey,
		Filename:    &header.Filename,
		ContentType: contentType,
		Size:        result.Size,
		UserID:      userID,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	// The client echoes url back as mediaUrl when it sends the message.
	c.JSON(http.StatusCreated, gin.H{
		"id":       attachment.ID.String(),
		"url":      "/v1/attachments/" + attachment.StorageKey,
		"filename": attachment.Filename,
		"mimeType": attachment.ContentType,
		"size":     attachment.Size,
	})
}

func download(c *gin.Context, store registrystore.ChatStore, attachStore registryattach.AttachmentStore, cfg *config.Config) {
	storageKey := c.Param("storageKey")

	attachment, err := store.GetAttachmentByStorageKey(c.Request.Context(), storageKey)
	if err != nil {
		handleError(c, err)
		return
	}

	if cfg.S3DirectDownload {
		if signed, err := attachStore.GetSignedURL(c.Request.Context(), attachment.StorageKey, cfg.AttachmentDownloadURLExpiresIn); err == nil && signed != nil {
			c.Redirect(http.StatusFound, signed.String())
			return
		}
	}

	streamAttachment(c, attachStore, attachment)
}

func streamAttachment(c *gin.Context, attachStore registryattach.AttachmentStore, attachment *model.Attachment) {
	reader, err := attachStore.Retrieve(c.Request.Context(), attachment.StorageKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve attachment"})
		return
	}
	defer reader.Close()

	c.Header("Cache-Control", "private, max-age=300, immutable")
	c.Header("Content-Type", attachment.ContentType)
	if attachment.Filename != nil && *attachment.Filename != "" {
		c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", *attachment.Filename))
	}
	c.Header("Content-Length", strconv.FormatInt(attachment.Size, 10))
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, reader)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError

	switch {
	case err == nil:
		return
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
