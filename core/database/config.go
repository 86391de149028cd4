// Package database opens the optional Postgres connection used for order
// history and applies schema migrations.
package database

import coreconfig "github.com/m3rciful/bookbot/core/config"

// Config holds database connection settings.
type Config struct {
	Host           string
	Port           string
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConnections int
}

// FromConfig maps the application database section.
func FromConfig(cfg coreconfig.DatabaseConfig) Config {
	return Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		User:           cfg.User,
		Password:       cfg.Password,
		Name:           cfg.Name,
		SSLMode:        cfg.SSLMode,
		MaxConnections: cfg.MaxConnections,
	}
}
