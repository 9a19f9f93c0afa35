package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/avtomat-kz/avtomat-api/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "avtomat", Password: "secret", Name: "avtomat", SSLMode: "disable"})
	assert.Equal(t, "host=db port=5432 user=avtomat password=secret dbname=avtomat sslmode=disable", dsn)
}
