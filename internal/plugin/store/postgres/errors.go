package postgres

import registrystore "github.com/chirino/chat-service/internal/registry/store"

// Aliases for the shared store error types.
type NotFoundError = registrystore.NotFoundError
type ValidationError = registrystore.ValidationError
type ConflictError = registrystore.ConflictError
type ForbiddenError = registrystore.ForbiddenError
