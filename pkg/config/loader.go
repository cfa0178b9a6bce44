package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load populates the given struct from environment variables using `env`
// tags. Services define their own Config struct and call this from their
// Load function.
//
//	type Config struct {
//	    Port     int    `env:"HTTP_PORT" envDefault:"8080"`
//	    LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
