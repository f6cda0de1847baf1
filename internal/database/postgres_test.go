package database

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stwalsh4118/parcelheat/internal/config"
	"github.com/stwalsh4118/parcelheat/internal/database/dbtest"
)

var testDSN string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	instance, err := dbtest.Start(ctx)
	if err != nil {
		fmt.Printf("Failed to start test database: %v\n", err)
		os.Exit(1)
	}
	testDSN = instance.DSN

	code := m.Run()

	if err := instance.Stop(ctx); err != nil {
		fmt.Printf("Failed to stop test database: %v\n", err)
	}
	os.Exit(code)
}

func openTestDB(t *testing.T) *Database {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := Open(context.Background(), testDSN, 1, 5)
	if err != nil {
		t.Fatalf("Failed to create connection pool: %v", err)
	}
	return db
}

func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{Host: "db", Port: "5433", Name: "heat", User: "u", Password: "p"}
	want := "postgres://u:p@db:5433/heat?sslmode=disable"
	if got := DSN(cfg); got != want {
		t.Errorf("DSN() = %s, want %s", got, want)
	}
}

func TestOpen_Success(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if db.Pool == nil {
		t.Error("Expected Pool to be initialized")
	}
	if stats := db.Stats(); stats == nil || stats.MaxConns() != 5 {
		t.Errorf("Expected MaxConns 5, got %+v", stats)
	}
}

func TestNewPostgresPool_InvalidHost(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := config.DatabaseConfig{
		Host: "invalid-host-that-does-not-exist", Port: "5432", Name: "x",
		User: "postgres", Password: "postgres", PoolMin: 1, PoolMax: 2,
	}
	if _, err := NewPostgresPool(ctx, cfg); err == nil {
		t.Error("Expected error for invalid host")
	}
}

func TestConnectWithRetry_GivesUp(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := config.DatabaseConfig{
		Host: "127.0.0.1", Port: "1", Name: "x",
		User: "postgres", Password: "postgres", PoolMin: 1, PoolMax: 2,
		ConnectMaxWait: 2 * time.Second,
	}

	var retries int
	_, err := ConnectWithRetry(context.Background(), cfg, func(error, time.Duration) { retries++ })
	if err == nil {
		t.Fatal("Expected error when database is unreachable")
	}
	if retries == 0 {
		t.Error("Expected at least one retry notification")
	}
}

func TestPing_AfterClose(t *testing.T) {
	db := openTestDB(t)
	db.Close()

	if err := db.Ping(context.Background()); err == nil {
		t.Error("Expected ping to fail after close")
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	db := openTestDB(t)
	db.Close()
	db.Close()
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("Migrate() run %d failed: %v", i+1, err)
		}
	}

	var count int
	err := db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM pg_indexes WHERE indexname = 'leads_one_active_per_property'`).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to query indexes: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected partial unique index on leads, found %d", count)
	}
}
