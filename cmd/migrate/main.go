package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"levra.org/internal/config"
	"levra.org/internal/migrate"
	"levra.org/internal/store/pg"
)

const usage = "usage: migrate [up|down|seed|status|grant-admin <user>|revoke-admin <user>]"

func main() {
	log.SetFlags(0)
	if _, err := config.LoadEnv(".env", ".env.local"); err != nil {
		log.Fatalf("load env: %v", err)
	}
	var (
		dsn     = flag.String("dsn", os.Getenv("PORTAL_DATABASE_URL"), "PostgreSQL DSN")
		timeout = flag.Duration("timeout", 30*time.Second, "Overall deadline")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or PORTAL_DATABASE_URL")
	}
	if len(flag.Args()) == 0 {
		log.Fatal(usage)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewEmbedded(db)

	var applied []string
	switch cmd := flag.Arg(0); cmd {
	case "up":
		applied, err = mgr.Up(ctx)
	case "down":
		var name string
		if name, err = mgr.Down(ctx); err == nil && name != "" {
			applied = []string{name}
		}
	case "seed":
		applied, err = mgr.Seed(ctx)
	case "status":
		var report migrate.Report
		if report, err = mgr.Status(ctx); err == nil {
			printStatus(report)
		}
	case "grant-admin", "revoke-admin":
		user := flag.Arg(1)
		if user == "" {
			log.Fatal(usage)
		}
		err = pg.New(db, nil).SetAdministrator(ctx, user, cmd == "grant-admin")
		if err == nil {
			applied = []string{user}
		}
	default:
		log.Fatalf("unknown command %q\n%s", cmd, usage)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
	for _, item := range applied {
		fmt.Println(item)
	}
}

func printStatus(r migrate.Report) {
	drifted := make(map[string]bool, len(r.Drifted))
	for _, name := range r.Drifted {
		drifted[name] = true
	}
	for _, e := range r.Applied {
		mark := "applied"
		if drifted[e.Name] {
			mark = "DRIFTED"
		}
		fmt.Printf("%-8s %s  %s\n", mark, e.AppliedAt.Format(time.RFC3339), e.Name)
	}
	for _, name := range r.Pending {
		fmt.Printf("%-8s %-20s  %s\n", "pending", "-", name)
	}
}
