package db

import (
	"testing"

	"travel-booking/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestGetConnStr(t *testing.T) {
	connStr := GetConnStr(config.Database{
		User:     "app",
		Password: "p@ss/word",
		Name:     "travel_booking",
		Host:     "db",
		Port:     "5432",
		SSLMode:  "disable",
	})

	assert.Equal(t, "postgres://app:p%40ss%2Fword@db:5432/travel_booking?sslmode=disable", connStr)
}
