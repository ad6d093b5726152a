package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"planning-poker/pkg/database"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/migrate [up|drop|status|purge-expired]")
		os.Exit(1)
	}

	command := os.Args[1]

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	switch command {
	case "up":
		if err := runInTx(ctx, conn, database.SchemaUp); err != nil {
			log.Fatalf("Failed to create tables: %v", err)
		}
		fmt.Println("✅ Room tables created successfully")

	case "drop":
		if err := runInTx(ctx, conn, database.SchemaDown); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		fmt.Println("✅ Room tables dropped successfully")

	case "status":
		if err := printStatus(ctx, conn); err != nil {
			log.Fatalf("Failed to read status: %v", err)
		}

	case "purge-expired":
		removed, err := purgeExpired(ctx, conn)
		if err != nil {
			log.Fatalf("Failed to purge expired rooms: %v", err)
		}
		fmt.Printf("✅ Purged %d expired rooms\n", removed)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
}

func runInTx(ctx context.Context, conn *pgx.Conn, queries []string) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, query := range queries {
		if _, err := tx.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func printStatus(ctx context.Context, conn *pgx.Conn) error {
	var live, expired, present int
	err := conn.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE expires_at IS NULL OR expires_at > NOW()),
			COUNT(*) FILTER (WHERE expires_at <= NOW()),
			(SELECT COUNT(*) FROM room_presence)
		FROM rooms`).Scan(&live, &expired, &present)
	if err != nil {
		return err
	}

	fmt.Printf("Live rooms:        %d\n", live)
	fmt.Printf("Expired rooms:     %d\n", expired)
	fmt.Printf("Presence entries:  %d\n", present)
	return nil
}

// purgeExpired removes expired rooms and their presence rows. The sweeper does
// the same through the coordinator; this is for a store with no server running.
func purgeExpired(ctx context.Context, conn *pgx.Conn) (int64, error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM room_presence p
		USING rooms r
		WHERE p.code = r.code AND r.expires_at <= NOW()`); err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM rooms WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), tx.Commit(ctx)
}
