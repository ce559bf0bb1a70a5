package postgis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buntinglabs/mundi/pkg/services"
)

// User-visible messages recorded in last_error_text. Each failure mode gets
// a distinct message so the frontend can explain what went wrong.
const (
	errMsgTimeout    = "Connection timed out. Check that the database is reachable from Mundi."
	errMsgDriver     = "Database rejected the connection. Check the URI, credentials, and network access."
	errMsgUnexpected = "Unexpected error while connecting to the database."
)

// Session is one hardened read-only connection to a user database. Callers
// must Release it on all exit paths.
type Session struct {
	conn *pgx.Conn
}

// Conn returns the underlying connection.
func (s *Session) Conn() *pgx.Conn {
	return s.conn
}

// Release closes the session.
func (s *Session) Release(ctx context.Context) {
	_ = s.conn.Close(ctx)
}

// Manager opens sessions and pools against user-supplied PostGIS databases.
// Pools are memoized by connection URI; once created, they are reused for
// the process lifetime.
type Manager struct {
	connSvc *services.ConnectionService
	timeout time.Duration

	pools   map[string]*pgxpool.Pool // keyed by connection URI
	poolsMu sync.Mutex
}

// NewManager creates a connection manager.
func NewManager(connSvc *services.ConnectionService, timeout time.Duration) *Manager {
	return &Manager{
		connSvc: connSvc,
		timeout: timeout,
		pools:   make(map[string]*pgxpool.Pool),
	}
}

// Connect resolves the connection record and opens a hardened session:
// the connect is bounded by the configured timeout and the session is forced
// read-only via SET SESSION CHARACTERISTICS. Every attempt updates the
// connection's last_error bookkeeping — cleared on success, set on failure.
func (m *Manager) Connect(ctx context.Context, connectionID, userID string) (*Session, error) {
	rec, err := m.connSvc.Get(ctx, connectionID, userID)
	if err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cfg, err := pgx.ParseConfig(rec.URI)
	if err != nil {
		m.recordError(ctx, connectionID, errMsgDriver)
		return nil, fmt.Errorf("invalid stored connection URI: %w", err)
	}
	// User databases often run self-signed certs; skip hostname/chain checks.
	if cfg.TLSConfig != nil {
		cfg.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	conn, err := pgx.ConnectConfig(connCtx, cfg)
	if err != nil {
		m.recordError(ctx, connectionID, classifyConnectError(connCtx, err))
		return nil, fmt.Errorf("failed to connect to user database: %w", err)
	}

	if _, err := conn.Exec(connCtx, "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"); err != nil {
		_ = conn.Close(ctx)
		m.recordError(ctx, connectionID, errMsgUnexpected)
		return nil, fmt.Errorf("failed to harden session read-only: %w", err)
	}

	if err := m.connSvc.ClearError(ctx, connectionID); err != nil {
		slog.Warn("Failed to clear connection error", "connection_id", connectionID, "error", err)
	}
	return &Session{conn: conn}, nil
}

// Pool returns a pooled gateway for the connection, for workloads that need
// many short-lived reads (vector tile endpoints). Sessions from the pool are
// hardened read-only on acquire.
func (m *Manager) Pool(ctx context.Context, connectionID, userID string) (*pgxpool.Pool, error) {
	rec, err := m.connSvc.Get(ctx, connectionID, userID)
	if err != nil {
		return nil, err
	}

	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()

	if pool, ok := m.pools[rec.URI]; ok {
		return pool, nil
	}

	cfg, err := pgxpool.ParseConfig(rec.URI)
	if err != nil {
		return nil, fmt.Errorf("invalid stored connection URI: %w", err)
	}
	cfg.MinConns = 1
	cfg.MaxConns = 10
	if cfg.ConnConfig.TLSConfig != nil {
		cfg.ConnConfig.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		m.recordError(ctx, connectionID, errMsgDriver)
		return nil, fmt.Errorf("failed to create user database pool: %w", err)
	}
	m.pools[rec.URI] = pool
	return pool, nil
}

// Close releases all memoized pools.
func (m *Manager) Close() {
	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()
	for uri, pool := range m.pools {
		pool.Close()
		delete(m.pools, uri)
	}
}

func (m *Manager) recordError(ctx context.Context, connectionID, message string) {
	if err := m.connSvc.RecordError(ctx, connectionID, message); err != nil {
		slog.Warn("Failed to record connection error", "connection_id", connectionID, "error", err)
	}
}

func classifyConnectError(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errMsgTimeout
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errMsgDriver
	}
	return errMsgUnexpected
}
