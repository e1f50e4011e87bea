package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-stats-engine/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "stats", Password: "secret", Name: "edu_stats", SSLMode: "disable"})
	assert.Equal(t, "host=db port=5432 user=stats password=secret dbname=edu_stats sslmode=disable", dsn)
}
