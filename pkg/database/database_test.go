package database

import (
	"context"
	"testing"

	"qi_api/internal/pkg/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestConnectionStrings(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host: "db", User: "app", Password: "secret", DBName: "qi_api",
		Port: "5432", SSLMode: "disable", TimeZone: "Asia/Shanghai",
	}

	assert.Equal(t, "host=db user=app password=secret dbname=qi_api port=5432 sslmode=disable TimeZone=Asia/Shanghai", DSN(cfg))
	assert.Equal(t, "postgres://app:secret@db:5432/qi_api?sslmode=disable", MigrateURL(cfg))
}

func TestInitRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	rdb, err := InitRedis(context.Background(), config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer rdb.Close()

	// 关闭后 Addr() 会 panic，沿用关闭前的地址
	mr.Close()
	_, err = InitRedis(context.Background(), config.RedisConfig{Addr: addr})
	assert.Error(t, err)
}

func TestRegisterPoolMetrics(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterPoolMetrics(db, reg))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_sql_open_connections")

	// 重复注册返回错误
	assert.Error(t, RegisterPoolMetrics(db, reg))
}
