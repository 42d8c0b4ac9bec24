// Package main applies the embedded schema migrations.
//
//	migrate up
//	migrate steps -n -1
//	migrate version
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/R3E-Network/tip_settlement/internal/platform/migrations"
)

func main() {
	var (
		dsn   = flag.String("dsn", "", "Postgres DSN (defaults to DATABASE_URL)")
		steps = flag.Int("n", 1, "Number of steps for the steps command; negative rolls back")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] up|steps|version\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	_ = godotenv.Load()
	if *dsn == "" {
		*dsn = os.Getenv("DATABASE_URL")
	}
	if *dsn == "" {
		log.Fatal("no DSN: pass -dsn or set DATABASE_URL")
	}

	switch flag.Arg(0) {
	case "up", "":
		if err := migrations.Up(*dsn); err != nil {
			log.Fatalf("up: %v", err)
		}
	case "steps":
		if err := migrations.Steps(*dsn, *steps); err != nil {
			log.Fatalf("steps %d: %v", *steps, err)
		}
	case "version":
	default:
		flag.Usage()
		os.Exit(2)
	}

	version, dirty, err := migrations.Version(*dsn)
	if err != nil {
		log.Fatalf("version: %v", err)
	}
	fmt.Printf("schema version %d (dirty=%v)\n", version, dirty)
}
