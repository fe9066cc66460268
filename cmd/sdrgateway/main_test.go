package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/sdr-gateway/internal/audit"
	"github.com/nerrad567/sdr-gateway/internal/broker"
	"github.com/nerrad567/sdr-gateway/internal/infrastructure/config"
)

const testSecrets = `
security:
  jwt:
    secret: "test-application-secret-at-least-32-chars"
    broker_secret: "test-broker-secret-at-least-32-characters"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("SDRGW_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingSecrets verifies run refuses to start without both
// signing secrets.
func TestRun_MissingSecrets(t *testing.T) {
	t.Setenv("SDRGW_CONFIG", writeConfig(t, `
database:
  path: "`+filepath.Join(t.TempDir(), "test.db")+`"
`))
	t.Setenv("SDRGW_JWT_SECRET", "")
	t.Setenv("SDRGW_BROKER_JWT_SECRET", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail without JWT secrets")
	}
}

// TestRun_StartupAndShutdown runs the gateway on SQLite with MQTT and
// InfluxDB disabled until the context expires.
func TestRun_StartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	t.Setenv("SDRGW_CONFIG", writeConfig(t, `
gateway:
  id: test-gateway

database:
  driver: sqlite
  path: "`+dbPath+`"

api:
  host: "127.0.0.1"
  port: 18931

logging:
  level: error
  format: text
  output: stdout

broker_api:
  url: "http://127.0.0.1:1"
`+testSecrets))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("SDRGW_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("SDRGW_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestNewPublisher(t *testing.T) {
	cfg := &config.Config{
		Egress:    config.EgressConfig{Transport: config.TransportHTTP},
		BrokerAPI: config.BrokerAPIConfig{URL: "http://broker:18083"},
	}
	if _, ok := newPublisher(cfg, nil).(*broker.HTTPPublisher); !ok {
		t.Error("http transport should use the REST publisher")
	}

	// Without a live MQTT client the REST publisher is the fallback.
	cfg.Egress.Transport = config.TransportMQTT
	if _, ok := newPublisher(cfg, nil).(*broker.HTTPPublisher); !ok {
		t.Error("mqtt transport without a client should fall back to the REST publisher")
	}
}

func TestOpenLocalDB_HoldsAuditTrail(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "local.db"),
	}}

	db, err := openLocalDB(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openLocalDB() error: %v", err)
	}
	repo, err := openStore(context.Background(), cfg, db, nil)
	if err != nil {
		t.Fatalf("openStore() error: %v", err)
	}
	defer repo.Close()

	log := audit.NewSQLiteRepository(db)
	if err := log.Create(context.Background(), &audit.Entry{Action: audit.ActionUnitSetup, UnitID: "u1", Source: audit.SourceIngress}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	res, err := log.List(context.Background(), audit.Filter{UnitID: "u1"})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if res.Total != 1 {
		t.Errorf("Total = %d, want 1", res.Total)
	}
}
