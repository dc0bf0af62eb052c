//go:build integration

package kiosk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/andresmejia3/facegate/internal/store"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}

// TestStoreIndex_LoginFlow runs a login against a real pgvector database.
func TestStoreIndex_LoginFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("facegate_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer pgContainer.Terminate(ctx)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	db, err := store.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	h := newHarness(t, blinkScript(), encodeResult{vec: vecAt(2), ok: true}, encodeResult{vec: vecAt(2.1), ok: true})
	idx := NewStoreIndex(db)
	h.kiosk.Index = idx

	if res, err := h.kiosk.Register(ctx, "frank"); err != nil || res.Outcome != Registered {
		t.Fatalf("Register() = %+v, %v", res, err)
	}

	// The second check needs its own blink.
	h.detector.script = append(h.detector.script, blinkScript()...)
	res, err := h.kiosk.Login(ctx)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.Outcome != LoginSuccess || res.Name != "frank" {
		t.Fatalf("Login() = %+v, want frank", res)
	}

	identities, err := db.ListIdentities(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(identities) != 1 || identities[0].Logins != 1 {
		t.Errorf("identities = %+v, want frank with one login", identities)
	}

	if err := h.kiosk.Rename(ctx, "frank", "francis"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if err := h.kiosk.Remove(ctx, "francis"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok, err := idx.Match(ctx, vecAt(2), 0.6); err != nil || ok {
		t.Errorf("Match after removal = %v, %v; want no match", ok, err)
	}
}
