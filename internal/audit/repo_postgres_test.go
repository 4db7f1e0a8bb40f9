package audit

import (
	"context"
	"os"
	"testing"
	"time"

	"tty-relay/pkg/utils"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Runs against a real database when AUDIT_TEST_DATABASE_URL is set.
func TestPostgresRepo_AppendAndRead(t *testing.T) {
	dsn := os.Getenv("AUDIT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AUDIT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := utils.OpenPostgres(ctx, "pgx", dsn, utils.PostgresPoolConfig{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	repo := NewPostgresRepo(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	callID := "CA" + uuid.NewString()
	svc := NewService(repo, nil)
	if err := svc.Append(ctx, Event{CallID: callID, Type: EventTypeCallCreated, Actor: "op-1", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := svc.Append(ctx, Event{CallID: callID, Type: EventTypeCallEnded, Metadata: `{"status":"completed"}`}); err != nil {
		t.Fatalf("append: %v", err)
	}

	evs, err := repo.ForCall(ctx, callID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(evs) != 2 || evs[0].Type != EventTypeCallCreated || evs[1].Metadata == "" {
		t.Fatalf("unexpected events: %+v", evs)
	}
}
