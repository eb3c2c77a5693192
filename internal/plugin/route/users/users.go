package users

import (
	"errors"
	"net/http"

	registryroute "github.com/chirino/chat-service/internal/registry/route"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 100,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts user routes on the given router.
// Registration is unauthenticated; everything else requires a bearer token.
func MountRoutes(r *gin.Engine, store registrystore.ChatStore, auth gin.HandlerFunc) {
	v1 := r.Group("/v1")

	v1.POST("/users", func(c *gin.Context) {
		registerUser(c, store)
	})

	g := v1.Group("", auth)
	g.GET("/users/me", func(c *gin.Context) {
		getMe(c, store)
	})
	g.PATCH("/users/me", func(c *gin.Context) {
		updateMe(c, store)
	})
	g.GET("/users", func(c *gin.Context) {
		lookupByPhone(c, store)
	})
}

func registerUser(c *gin.Context, store registrystore.ChatStore) {
	var req registrystore.NewUser
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := store.RegisterUser(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func getMe(c *gin.Context, store registrystore.ChatStore) {
	userID := security.GetUserID(c)

	user, err := store.GetUser(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func updateMe(c *gin.Context, store registrystore.ChatStore) {
	userID := security.GetUserID(c)

	var req registrystore.UserUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := store.UpdateUserProfile(c.Request.Context(), userID, req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func lookupByPhone(c *gin.Context, store registrystore.ChatStore) {
	phone := c.Query("phone")
	if phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "phone query parameter is required"})
		return
	}

	user, err := store.GetUserByPhone(c.Request.Context(), phone)
	if err != nil {
		handleError(c, err)
		return
	}
	// Phone lookup only reveals the public profile.
	c.JSON(http.StatusOK, user.Summary())
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
