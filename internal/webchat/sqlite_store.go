package webchat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, registered as "sqlite"
)

// SQLiteStore is the optional durable conversation backend keyed by
// conversation_id, for deployments where a restart must not drop
// in-flight WebChat conversations. Activity fan-out to live WebSocket
// subscribers still happens in-process (SQLite has no pub/sub of its
// own) via the same subscriber-index approach MemoryStore uses; only
// conversation/activity persistence is durable.
type SQLiteStore struct {
	db *sql.DB

	mu   sync.Mutex
	subs map[string]map[*chanSubscriber]struct{}
}

// NewSQLiteStore opens (creating if absent) a SQLite database at path
// and ensures its schema exists. path may be ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("webchat: open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db, subs: make(map[string]map[*chanSubscriber]struct{})}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			env TEXT NOT NULL,
			tenant TEXT NOT NULL,
			team TEXT,
			state TEXT NOT NULL,
			backlog_cap INTEGER NOT NULL,
			watermark INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			last_active DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS activities (
			conversation_id TEXT NOT NULL,
			watermark INTEGER NOT NULL,
			activity_json TEXT NOT NULL,
			PRIMARY KEY (conversation_id, watermark)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("webchat: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, id string, tenant TenantClaims, backlogCap int) (*Conversation, error) {
	if backlogCap <= 0 {
		backlogCap = DefaultBacklogCap
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, env, tenant, team, state, backlog_cap, watermark, created_at, last_active)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, tenant.Env, tenant.Tenant, tenant.Team, string(StateActive), backlogCap, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("webchat: create conversation: %w", err)
	}
	conv := NewConversation(id, tenant, backlogCap)
	conv.CreatedAt, conv.LastActive = now, now
	return conv, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT env, tenant, team, state, backlog_cap, watermark, created_at, last_active
		 FROM conversations WHERE id = ?`, id)
	var (
		team                  sql.NullString
		state                 string
		backlogCap            int
		watermark             int64
		createdAt, lastActive time.Time
		conv                  = &Conversation{ID: id}
	)
	if err := row.Scan(&conv.Ctx.Env, &conv.Ctx.Tenant, &team, &state, &backlogCap, &watermark, &createdAt, &lastActive); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("webchat: get conversation: %w", err)
	}
	conv.Ctx.Team = team.String
	conv.State = State(state)
	conv.BacklogCap = backlogCap
	conv.CreatedAt = createdAt
	conv.LastActive = lastActive

	rows, err := s.db.QueryContext(ctx,
		`SELECT watermark, activity_json FROM activities WHERE conversation_id = ? ORDER BY watermark ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("webchat: load activities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var wm int64
		var raw string
		if err := rows.Scan(&wm, &raw); err != nil {
			return nil, fmt.Errorf("webchat: scan activity: %w", err)
		}
		var a Activity
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("webchat: decode activity: %w", err)
		}
		conv.activities = append(conv.activities, StoredActivity{Activity: a, Watermark: uint64(wm)})
	}
	conv.watermark = uint64(watermark)
	return conv, nil
}

func (s *SQLiteStore) Append(ctx context.Context, id string, activity Activity) (StoredActivity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StoredActivity{}, fmt.Errorf("webchat: begin tx: %w", err)
	}
	defer tx.Rollback()

	var state string
	var backlogCap int
	var watermark int64
	if err := tx.QueryRowContext(ctx, `SELECT state, backlog_cap, watermark FROM conversations WHERE id = ?`, id).
		Scan(&state, &backlogCap, &watermark); err != nil {
		if err == sql.ErrNoRows {
			return StoredActivity{}, ErrConversationNotFound
		}
		return StoredActivity{}, fmt.Errorf("webchat: append: load conversation: %w", err)
	}
	if State(state) == StateClosed || State(state) == StateExpired {
		return StoredActivity{}, ErrConversationNotFound
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities WHERE conversation_id = ?`, id).Scan(&count); err != nil {
		return StoredActivity{}, fmt.Errorf("webchat: append: count activities: %w", err)
	}
	if count >= backlogCap {
		return StoredActivity{}, ErrBacklogFull
	}

	activity.ensureDefaults(id)
	newWatermark := watermark + 1
	raw, err := json.Marshal(activity)
	if err != nil {
		return StoredActivity{}, fmt.Errorf("webchat: append: encode activity: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO activities (conversation_id, watermark, activity_json) VALUES (?, ?, ?)`,
		id, newWatermark, string(raw)); err != nil {
		return StoredActivity{}, fmt.Errorf("webchat: append: insert activity: %w", err)
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET watermark = ?, last_active = ? WHERE id = ?`,
		newWatermark, now, id); err != nil {
		return StoredActivity{}, fmt.Errorf("webchat: append: update watermark: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return StoredActivity{}, fmt.Errorf("webchat: append: commit: %w", err)
	}

	stored := StoredActivity{Activity: activity, Watermark: uint64(newWatermark)}
	s.fanOut(id, stored)
	return stored, nil
}

func (s *SQLiteStore) Since(ctx context.Context, id string, after uint64) ([]StoredActivity, uint64, error) {
	var watermark int64
	if err := s.db.QueryRowContext(ctx, `SELECT watermark FROM conversations WHERE id = ?`, id).Scan(&watermark); err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, ErrConversationNotFound
		}
		return nil, 0, fmt.Errorf("webchat: since: load watermark: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT watermark, activity_json FROM activities WHERE conversation_id = ? AND watermark > ? ORDER BY watermark ASC`,
		id, after)
	if err != nil {
		return nil, 0, fmt.Errorf("webchat: since: query activities: %w", err)
	}
	defer rows.Close()

	var out []StoredActivity
	for rows.Next() {
		var wm int64
		var raw string
		if err := rows.Scan(&wm, &raw); err != nil {
			return nil, 0, fmt.Errorf("webchat: since: scan activity: %w", err)
		}
		var a Activity
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, 0, fmt.Errorf("webchat: since: decode activity: %w", err)
		}
		out = append(out, StoredActivity{Activity: a, Watermark: uint64(wm)})
	}
	return out, uint64(watermark), nil
}

func (s *SQLiteStore) Subscribe(_ context.Context, id string, sub Subscriber) (func(), error) {
	cs, ok := sub.(*chanSubscriber)
	if !ok {
		return nil, errUnsupportedSubscriber
	}
	s.mu.Lock()
	set, ok := s.subs[id]
	if !ok {
		set = make(map[*chanSubscriber]struct{})
		s.subs[id] = set
	}
	set[cs] = struct{}{}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs[id], cs)
		s.mu.Unlock()
	}, nil
}

func (s *SQLiteStore) fanOut(id string, a StoredActivity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs[id] {
		sub.Send(a)
	}
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
