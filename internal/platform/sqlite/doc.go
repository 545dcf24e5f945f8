// Package sqlite предоставляет инфраструктурные компоненты для работы с SQLite:
// открытие БД с PRAGMA настройками, встроенные миграции и тестовые хелперы.
//
// # Быстрый старт
//
//	db, err := sqlite.Open(ctx, "data/envbackup.db", sqlite.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	if err := sqlite.ApplyMigrationsFS("data/envbackup.db", migrations.FS, "sqlite"); err != nil {
//		return err
//	}
//
// Драйвер modernc.org/sqlite не требует CGO.
package sqlite
