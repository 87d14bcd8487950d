//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"BarPulse/pkg/config"
	"BarPulse/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		ProvideAudit,
		ProvideRegistry,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideSnapshotStore,
		ProvideTransitionReader,
		ProvidePredictionPublisher,
		ProvidePredictionCache,
		ProvideInferencer,

		// Use cases
		ProvideSnapshotFlusher,
		ProvidePipelineFactory,
		ProvideEngine,
		ProvideIngestGuard,
		ProvideBarsHandler,
		ProvideBarCollector,

		// HTTP surface
		ProvideStatusHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
