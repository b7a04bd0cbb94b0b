// Package config loads typed configuration from environment variables.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11: dotenv
// files are merged into the process environment, then the target struct is
// populated from its `env` / `envDefault` tags. Each billsync package that
// needs settings exposes its own Config struct (mongo.Config,
// ledger.StripeConfig, reconcile.Config, ...) and the binary composes them.
//
// # Usage
//
//	type AppConfig struct {
//		Mongo  mongo.Config
//		Stripe ledger.StripeConfig
//	}
//
//	var cfg AppConfig
//	config.MustLoad(&cfg)
//
// Nested structs without an `env` tag are parsed recursively, so a composite
// struct needs no extra wiring.
package config
