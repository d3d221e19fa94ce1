//go:build wireinject
// +build wireinject

package di

import (
	"FinSight/pkg/config"
	"FinSight/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideCacheTier,
		ProvideClickHouseClient,
		ProvideKafkaProducer,

		// Repositories
		ProvideAuditStore,
		ProvideEventPublisher,

		// Domain services
		ProvideCacheManager,
		ProvideMonitor,
		ProvideRegistry,
		ProvideBudget,
		ProvideLLM,

		// Use cases
		ProvideOrchestrator,
		ProvideWarmer,

		// HTTP
		ProvideHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
