package main

import (
	"errors"
	"flag"
	"log"

	"qi_api/internal/pkg/config"
	"qi_api/pkg/database"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	down := flag.Bool("down", false, "回滚最近一次迁移")
	force := flag.Int("force", -1, "强制设置版本（修复 dirty 状态）")
	source := flag.String("path", "file://migrations", "迁移文件目录")
	flag.Parse()

	config.LoadConfig()

	m, err := migrate.New(*source, database.MigrateURL(config.GlobalConfig.Database))
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()

	switch {
	case *force >= 0:
		// dirty 状态需要人工确认后指定版本
		err = m.Force(*force)
	case *down:
		err = m.Steps(-1)
	default:
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			log.Fatalf("Database is dirty at version %d, fix it and rerun with -force %d", dirty.Version, dirty.Version)
		}
		log.Fatal(err)
	}

	version, isDirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.Fatal(err)
	}
	log.Printf("Migration successful, version=%d dirty=%v", version, isDirty)
}
