// Package service exposes the pipeline and SLA use cases over transport.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewPipelineService,
	NewSLAService,
)
