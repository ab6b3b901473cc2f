package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	dbconfig "boardhub/pkg/database"
	"boardhub/pkg/interfaces"
	"boardhub/pkg/types"
)

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

// Manager implements interfaces.DatabaseManager on SQLite.
// ARCHITECTURAL DISCOVERY: reads go straight to the pool, writes are
// serialized through writeLoop so SQLite never sees competing writers
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	stopped      chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex

	onChange []func(whiteboardID string)
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations and starts the writer.
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	if err := dbconfig.NewMigrationManager(db, config.MigrationsPath).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		logger:       logger,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	logger.Info("Database ready", zap.String("path", config.DatabasePath))
	return m, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.stopped)

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runWrite(op)
		case <-m.shutdown:
			// Flush writes that were queued before Close.
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- m.runWrite(op)
				default:
					m.logger.Debug("Database write loop shutting down")
					return
				}
			}
		}
	}
}

// runWrite executes op, retrying once after RetryDelay.
func (m *Manager) runWrite(op writeOperation) error {
	err := op.operation(op.ctx, m.db)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	m.logger.Warn("Database write failed, retrying", zap.Duration("retry_delay", m.config.RetryDelay), zap.Error(err))
	select {
	case <-time.After(m.config.RetryDelay):
	case <-op.ctx.Done():
		return op.ctx.Err()
	}

	if err = op.operation(op.ctx, m.db); err != nil {
		m.logger.Error("Database write failed after retry", zap.Error(err))
	}
	return err
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	op := writeOperation{ctx: ctx, operation: operation, result: make(chan error, 1)}
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- op:
	case <-timeout.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-op.result:
		return err
	case <-m.stopped:
		// The loop may have answered just before exiting.
		select {
		case err := <-op.result:
			return err
		default:
			return ErrManagerClosed
		}
	}
}

// GetUser implements interfaces.UserDirectory.
func (m *Manager) GetUser(ctx context.Context, userID string) (*types.User, error) {
	var u types.User
	err := m.db.QueryRowContext(ctx,
		`SELECT id, name, email, role FROM users WHERE id = ?`, userID,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &u, nil
}

// GetWhiteboard implements interfaces.WhiteboardStore.
func (m *Manager) GetWhiteboard(ctx context.Context, whiteboardID string) (*types.Whiteboard, error) {
	var wb types.Whiteboard
	err := m.db.QueryRowContext(ctx,
		`SELECT id, title, created_by, is_public, created_at FROM whiteboards WHERE id = ?`, whiteboardID,
	).Scan(&wb.ID, &wb.Title, &wb.CreatedBy, &wb.IsPublic, &wb.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrWhiteboardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query whiteboard: %w", err)
	}
	return &wb, nil
}

// GetParticipant implements interfaces.WhiteboardStore.
func (m *Manager) GetParticipant(ctx context.Context, whiteboardID, userID string) (*types.WhiteboardParticipant, error) {
	var (
		p        types.WhiteboardParticipant
		role     string
		lastSeen sql.NullTime
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT whiteboard_id, user_id, role, status, last_seen_at
		FROM whiteboard_participants
		WHERE whiteboard_id = ? AND user_id = ?
	`, whiteboardID, userID).Scan(&p.WhiteboardID, &p.UserID, &role, &p.Status, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query participant: %w", err)
	}
	p.Role = types.Role(role)
	if lastSeen.Valid {
		t := lastSeen.Time
		p.LastSeenAt = &t
	}
	return &p, nil
}

// OnChange registers fn to run after a whiteboard or participant write
// commits. Register before serving; the list is not locked.
func (m *Manager) OnChange(fn func(whiteboardID string)) {
	m.onChange = append(m.onChange, fn)
}

func (m *Manager) changed(whiteboardID string) {
	for _, fn := range m.onChange {
		fn(whiteboardID)
	}
}

// CreateUser inserts or refreshes a user record.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (id, name, email, role) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email, role = excluded.role
		`, user.ID, user.Name, user.Email, user.Role)
		if err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}
		return nil
	})
}

// CreateWhiteboard inserts a whiteboard record.
func (m *Manager) CreateWhiteboard(ctx context.Context, wb *types.Whiteboard) error {
	if !types.IsValidWhiteboardID(wb.ID) {
		return types.ErrInvalidWhiteboardID
	}
	if wb.CreatedAt.IsZero() {
		wb.CreatedAt = time.Now().UTC()
	}
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO whiteboards (id, title, created_by, is_public, created_at) VALUES (?, ?, ?, ?, ?)
		`, wb.ID, wb.Title, wb.CreatedBy, wb.IsPublic, wb.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert whiteboard: %w", err)
		}
		return nil
	})
	if err == nil {
		m.changed(wb.ID)
	}
	return err
}

// AddParticipant grants an explicit role, replacing any previous one.
func (m *Manager) AddParticipant(ctx context.Context, p *types.WhiteboardParticipant) error {
	role, ok := types.ParseRole(string(p.Role))
	if !ok {
		return fmt.Errorf("invalid participant role %q", p.Role)
	}
	status := p.Status
	if status == "" {
		status = types.StatusOffline
	}
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO whiteboard_participants (whiteboard_id, user_id, role, status) VALUES (?, ?, ?, ?)
			ON CONFLICT(whiteboard_id, user_id) DO UPDATE SET role = excluded.role
		`, p.WhiteboardID, p.UserID, string(role), status)
		if err != nil {
			return fmt.Errorf("failed to upsert participant: %w", err)
		}
		return nil
	})
	if err == nil {
		m.changed(p.WhiteboardID)
	}
	return err
}

// Name implements interfaces.StatusSink.
func (m *Manager) Name() string { return "sqlite" }

// WriteStatus records presence on the participant row. Users without an
// explicit record (public viewers) have no row, and that is not an error.
func (m *Manager) WriteStatus(ctx context.Context, update types.StatusUpdate) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE whiteboard_participants SET status = ?, last_seen_at = ?
			WHERE whiteboard_id = ? AND user_id = ?
		`, update.Status, update.At.UTC(), update.WhiteboardID, update.UserID)
		if err != nil {
			return fmt.Errorf("failed to update participant status: %w", err)
		}
		return nil
	})
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM whiteboards").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying pool for schema checks.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close drains queued writes and closes the pool. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
