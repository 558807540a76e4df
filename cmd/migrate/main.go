package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id           VARCHAR(50) PRIMARY KEY,
		login        VARCHAR(250) NOT NULL DEFAULT '',
		payer_ref    VARCHAR(250) NOT NULL DEFAULT '',
		phone        VARCHAR(50)  NOT NULL DEFAULT '',
		total_spend  NUMERIC      NOT NULL DEFAULT 0,
		period_spend NUMERIC      NOT NULL DEFAULT 0,
		created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS identifier_links (
		account_id VARCHAR(50)  NOT NULL REFERENCES accounts(id),
		kind       VARCHAR(20)  NOT NULL,
		identifier VARCHAR(250) NOT NULL,
		created_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
		PRIMARY KEY (account_id, kind, identifier)
	)`,
	`CREATE INDEX IF NOT EXISTS identifier_links_lookup
		ON identifier_links (kind, identifier)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id                 VARCHAR(50) PRIMARY KEY,
		account_id         VARCHAR(50)  NOT NULL REFERENCES accounts(id),
		amount_minor       BIGINT       NOT NULL,
		status             VARCHAR(20)  NOT NULL,
		gateway_ref        VARCHAR(250) NOT NULL UNIQUE,
		qr_payload         TEXT         NOT NULL DEFAULT '',
		payer_id           VARCHAR(250) NOT NULL DEFAULT '',
		payer_id_secondary VARCHAR(250) NOT NULL DEFAULT '',
		refund_attempts    INT          NOT NULL DEFAULT 0,
		created_at         TIMESTAMPTZ  NOT NULL,
		updated_at         TIMESTAMPTZ  NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_payer_window
		ON transactions (payer_id, status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS api_clients (
		api_login  VARCHAR(250) PRIMARY KEY,
		api_key    VARCHAR(250) NOT NULL,
		created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
	)`,
}

func main() {
	_ = godotenv.Load()

	dbURL := os.Getenv("DB_SOURCE")
	if dbURL == "" {
		log.Fatal("DB_SOURCE environment variable is required")
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	defer conn.Close(ctx)

	log.Println("--- Applying schema ---")
	for _, stmt := range ddl {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
	}
	log.Println("Schema is up to date.")

	// Optional default partner credentials for fresh environments.
	seedLogin := os.Getenv("SEED_API_LOGIN")
	seedKey := os.Getenv("SEED_API_KEY")
	if seedLogin != "" && seedKey != "" {
		tag, err := conn.Exec(ctx,
			`INSERT INTO api_clients (api_login, api_key, created_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (api_login) DO NOTHING`,
			seedLogin, seedKey, time.Now().UTC())
		if err != nil {
			log.Fatalf("Seeding api client failed: %v", err)
		}
		if tag.RowsAffected() > 0 {
			log.Printf("Seeded api client %q.", seedLogin)
		} else {
			log.Printf("Api client %q already present. Skipping.", seedLogin)
		}
	}
}
