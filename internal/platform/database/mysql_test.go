package database

import (
	"testing"

	"github.com/JakeRemmich/AutoHotKey/internal/platform/config"
	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host: "db", Port: "3306", User: "ahk", Password: "pw", DBName: "ahk",
	})
	assert.Equal(t, "ahk:pw@tcp(db:3306)/ahk?charset=utf8mb4&parseTime=True&loc=UTC", dsn)
}
