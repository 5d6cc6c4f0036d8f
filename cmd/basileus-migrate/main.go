// Command basileus-migrate applies the PostgreSQL schema. The SQLite
// backend bootstraps its own schema on open and needs no migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/misaka10987/basileus/store/pg"
)

func main() {
	log.SetFlags(0)
	dsn := flag.String("dsn", os.Getenv("BASILEUS_PG_DSN"), "PostgreSQL DSN")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or BASILEUS_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: basileus-migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	switch flag.Arg(0) {
	case "up":
		err = pg.Migrate(ctx, store.DB())
	case "down":
		err = pg.MigrateDown(ctx, store.DB())
	case "status":
		var applied []string
		applied, err = pg.MigrationStatus(ctx, store.DB())
		if err == nil {
			if len(applied) == 0 {
				fmt.Println("no migrations applied")
			}
			for _, item := range applied {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
