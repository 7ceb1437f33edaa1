//go:build wireinject
// +build wireinject

package di

import (
	"EnigmaHub/pkg/config"
	"EnigmaHub/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideEventStore,
		ProvideRedisClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Hub core
		ProvideClassifier,
		ProvideRegistry,
		ProvideHub,

		// Peripherals
		ProvideBridgeClient,
		ProvideMarketPoller,
		ProvideKafkaSignalsHandler,
		ProvideReplayConsumer,
		ProvideStatusCache,

		// HTTP handlers
		ProvideControlHandler,
		ProvideWSHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
