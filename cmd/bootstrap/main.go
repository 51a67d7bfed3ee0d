// Command bootstrap creates the first Founder session key directly in the database,
// for installs where the HTTP bootstrap endpoint should stay unused.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"voidmod.org/internal/auth"
	"voidmod.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn    = flag.String("dsn", os.Getenv("PG_DSN"), "PostgreSQL DSN")
		pseudo = flag.String("pseudo", envOr("FOUNDER_BOOTSTRAP_PSEUDO", "VoidFounder"), "Founder pseudo")
		secret = flag.String("key", os.Getenv("FOUNDER_BOOTSTRAP_KEY"), "Founder session key; generated when empty")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	// Bootstrap never issues a token, so the session service runs without an issuer.
	sessions := auth.NewSessions(store, auth.NewKeyCodec(), nil)
	key, plain, err := sessions.Bootstrap(ctx, *pseudo, *secret)
	if errors.Is(err, auth.ErrNotBootstrappable) {
		log.Fatal("session keys already exist; bootstrap refused")
	}
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	fmt.Printf("founder %s created (id %s)\n", key.Pseudo, key.ID)
	fmt.Printf("session key: %s\n", plain)
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
