// Package data provides data access layer implementations.
// It handles database connections, external collaborator clients, and data
// persistence.
package data

import (
	"github.com/google/wire"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewRedisClient,
	NewCacheClient,
	NewMySQLClient,
	NewBreakerStateRepo,
	NewSLAStore,
	NewPreprocessorClient,
	NewBusinessRulesClient,
	NewWorkflowClient,
	NewPostprocessorClient,
)
