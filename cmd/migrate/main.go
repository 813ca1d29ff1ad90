package main

import (
	"errors"
	"flag"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/khalidw/consultly/internal/config"
)

func main() {
	dir := flag.String("dir", "migrations", "path to migration files")
	flag.Parse()

	if flag.NArg() != 1 || (flag.Arg(0) != "up" && flag.Arg(0) != "down") {
		log.Fatal("Usage: migrate [-dir migrations] up|down")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	m, err := migrate.New("file://"+*dir, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Create migrator: %v", err)
	}
	defer m.Close()

	switch flag.Arg(0) {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("Run migrations: %v", err)
	}

	log.Printf("Migrations %s complete", flag.Arg(0))
}
