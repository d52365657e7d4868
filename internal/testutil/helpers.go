package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/x5th/x-leverage/internal/core"
	"github.com/x5th/x-leverage/internal/event"
	"github.com/x5th/x-leverage/internal/ledger"
	"github.com/x5th/x-leverage/internal/persistence"
	"github.com/x5th/x-leverage/internal/state"
)

// DatabaseURLEnv names the DSN of a disposable Postgres for integration tests.
const DatabaseURLEnv = "XLEV_TEST_DATABASE_URL"

// RequireIntegration skips the test unless an integration database is configured.
func RequireIntegration(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv(DatabaseURLEnv)
	if dsn == "" {
		t.Skipf("skipping integration test (set %s to run)", DatabaseURLEnv)
	}
	return dsn
}

// MigrationsDir returns the repository's migrations directory regardless of
// which package the test runs in.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// SetupTestDB connects to the integration database, applies migrations and
// truncates every table. The connection is closed when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := RequireIntegration(t)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Skipf("test postgres not available: %v", err)
	}
	if err := persistence.NewMigrator(db, MigrationsDir(), zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	Truncate(t, db)
	return db
}

// Truncate empties the event log and every projection.
func Truncate(t *testing.T, db *sql.DB) {
	t.Helper()
	tables := []string{
		"event_log.events",
		"event_log.journal",
		"event_log.snapshots",
		"projections.balances",
		"projections.positions",
		"projections.position_history",
		"projections.pool",
		"projections.liquidation_history",
		"projections.watermark",
	}
	for _, table := range tables {
		if _, err := db.Exec(fmt.Sprintf("TRUNCATE %s CASCADE", table)); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}

// Fixture identities shared by integration tests.
var (
	AdminID    = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	ProviderID = uuid.MustParse("00000000-0000-0000-0000-0000000000c1")
)

// NewCore returns a core with a USDC pool owned by AdminID. Either channel
// may be nil.
func NewCore(t *testing.T, persist, projection chan core.CoreOutput) *core.DeterministicCore {
	t.Helper()
	usdc, _ := ledger.GetAssetID("USDC")
	c, err := core.NewDeterministicCore(core.Config{
		Params:        state.DefaultRiskParams,
		PoolAsset:     usdc,
		PoolAuthority: AdminID,
	}, persist, projection, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDeterministicCore failed: %v", err)
	}
	return c
}

// Meta builds a command header with a fresh request id.
func Meta(caller uuid.UUID, slot uint64) event.Meta {
	return event.Meta{RequestID: uuid.New(), Caller: caller, Slot: slot, Timestamp: 1_000 + int64(slot)}
}

// FundedPool returns the commands that initialize the protocol, fund the
// provider and deposit liquidity into the pool.
func FundedPool(wallet, liquidity uint64) []event.Event {
	return []event.Event{
		&event.ProtocolInit{Meta: Meta(AdminID, 1), Admin: AdminID},
		&event.WalletDeposit{Meta: Meta(AdminID, 2), Account: ProviderID, Asset: "USDC", Amount: wallet},
		&event.LiquidityDeposit{Meta: Meta(ProviderID, 3), Amount: liquidity},
	}
}

// Apply runs each command through c and fails the test on any error.
func Apply(t *testing.T, c *core.DeterministicCore, cmds ...event.Event) {
	t.Helper()
	for _, cmd := range cmds {
		if _, err := c.ProcessEvent(cmd); err != nil {
			t.Fatalf("%s failed: %v", cmd.EventType(), err)
		}
	}
}
