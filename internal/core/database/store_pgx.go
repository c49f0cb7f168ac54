package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/retava/chatdesk/internal/config"
	"github.com/retava/chatdesk/internal/core"
	"github.com/retava/chatdesk/internal/models"
)

type StoreClient struct {
	db *sql.DB
}

func NewStoreClient(ctx context.Context, cfg *config.Config) (core.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("store configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &StoreClient{db: db}, nil
}

func (c *StoreClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Customers

func (c *StoreClient) GetCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	const q = `
		SELECT id, phone, name, conversation_state, needs_human, preferred_language, last_active_at, created_at
		FROM customers WHERE phone = $1
	`
	var cu models.Customer
	err := c.db.QueryRowContext(ctx, q, phone).Scan(
		&cu.ID, &cu.Phone, &cu.Name, &cu.ConversationState, &cu.NeedsHuman,
		&cu.PreferredLanguage, &cu.LastActiveAt, &cu.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cu, nil
}

func (c *StoreClient) GetCustomerByID(ctx context.Context, id string) (*models.Customer, error) {
	const q = `
		SELECT id, phone, name, conversation_state, needs_human, preferred_language, last_active_at, created_at
		FROM customers WHERE id = $1
	`
	var cu models.Customer
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&cu.ID, &cu.Phone, &cu.Name, &cu.ConversationState, &cu.NeedsHuman,
		&cu.PreferredLanguage, &cu.LastActiveAt, &cu.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cu, nil
}

func (c *StoreClient) CreateCustomer(ctx context.Context, cu *models.Customer) error {
	if cu == nil {
		return errors.New("nil customer")
	}
	const q = `
		INSERT INTO customers (id, phone, name, conversation_state, needs_human, preferred_language, last_active_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()), COALESCE($8, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		cu.ID, cu.Phone, cu.Name, cu.ConversationState, cu.NeedsHuman,
		cu.PreferredLanguage, cu.LastActiveAt, cu.CreatedAt)
	return err
}

func (c *StoreClient) TouchCustomer(ctx context.Context, phone string) error {
	// GREATEST keeps last_active_at monotonic under out-of-order deliveries.
	const q = `
		UPDATE customers SET last_active_at = GREATEST(last_active_at, now())
		WHERE phone = $1
	`
	_, err := c.db.ExecContext(ctx, q, phone)
	return err
}

func (c *StoreClient) UpdateCustomerState(ctx context.Context, phone, state string, needsHuman *bool) error {
	const q = `
		UPDATE customers
		SET conversation_state = $2,
		    needs_human = COALESCE($3, needs_human)
		WHERE phone = $1
	`
	_, err := c.db.ExecContext(ctx, q, phone, state, needsHuman)
	return err
}

func (c *StoreClient) UpdateCustomerLanguage(ctx context.Context, phone, language string) error {
	const q = `UPDATE customers SET preferred_language = $2 WHERE phone = $1`
	_, err := c.db.ExecContext(ctx, q, phone, language)
	return err
}

// Messages

func (c *StoreClient) InsertMessage(ctx context.Context, m *models.Message) error {
	if m == nil {
		return errors.New("nil message")
	}
	const q = `
		INSERT INTO messages (id, customer_id, session_id, content, direction, sender, response_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		m.ID, m.CustomerID, m.SessionID, m.Content, m.Direction, m.Sender, m.ResponseTimeMs, m.CreatedAt)
	return err
}

func (c *StoreClient) ListRecentMessages(ctx context.Context, customerID string, limit int) ([]models.Message, error) {
	const q = `
		SELECT id, customer_id, session_id, content, direction, sender, response_time_ms, created_at
		FROM messages
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Query is newest-first for the LIMIT; callers want chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (c *StoreClient) ListSessionMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	const q = `
		SELECT id, customer_id, session_id, content, direction, sender, response_time_ms, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(
			&m.ID, &m.CustomerID, &m.SessionID, &m.Content, &m.Direction, &m.Sender,
			&m.ResponseTimeMs, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Sessions

func (c *StoreClient) GetOngoingSession(ctx context.Context, customerID string, since time.Time) (*models.Session, error) {
	const q = `
		SELECT id, customer_id, started_at, ended_at, human_mode, customer_msg_count, ai_msg_count, resolution_status, summary
		FROM sessions
		WHERE customer_id = $1 AND resolution_status = 'ongoing' AND started_at >= $2
		ORDER BY started_at DESC
		LIMIT 1
	`
	var s models.Session
	err := c.db.QueryRowContext(ctx, q, customerID, since).Scan(
		&s.ID, &s.CustomerID, &s.StartedAt, &s.EndedAt, &s.HumanMode,
		&s.CustomerMsgCount, &s.AIMsgCount, &s.ResolutionStatus, &s.Summary,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *StoreClient) GetSessionByID(ctx context.Context, id string) (*models.Session, error) {
	const q = `
		SELECT id, customer_id, started_at, ended_at, human_mode, customer_msg_count, ai_msg_count, resolution_status, summary
		FROM sessions WHERE id = $1
	`
	var s models.Session
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.CustomerID, &s.StartedAt, &s.EndedAt, &s.HumanMode,
		&s.CustomerMsgCount, &s.AIMsgCount, &s.ResolutionStatus, &s.Summary,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *StoreClient) CreateSession(ctx context.Context, s *models.Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	const q = `
		INSERT INTO sessions (id, customer_id, started_at, human_mode, customer_msg_count, ai_msg_count, resolution_status)
		VALUES ($1, $2, COALESCE($3, now()), $4, $5, $6, $7)
	`
	_, err := c.db.ExecContext(ctx, q,
		s.ID, s.CustomerID, s.StartedAt, s.HumanMode, s.CustomerMsgCount, s.AIMsgCount, s.ResolutionStatus)
	return err
}

func (c *StoreClient) IncrementSessionCounters(ctx context.Context, sessionID string, customerDelta, aiDelta int) error {
	const q = `
		UPDATE sessions
		SET customer_msg_count = customer_msg_count + $2,
		    ai_msg_count = ai_msg_count + $3
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, sessionID, customerDelta, aiDelta)
	return err
}

func (c *StoreClient) UpdateSessionStatus(ctx context.Context, sessionID, status string, summary *string) error {
	const q = `
		UPDATE sessions
		SET resolution_status = $2,
		    summary = COALESCE($3, summary),
		    ended_at = CASE WHEN $2 = 'ongoing' THEN ended_at ELSE now() END
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, sessionID, status, summary)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	return nil
}

func (c *StoreClient) SetSessionHumanMode(ctx context.Context, sessionID string, humanMode bool) error {
	const q = `UPDATE sessions SET human_mode = $2 WHERE id = $1`
	_, err := c.db.ExecContext(ctx, q, sessionID, humanMode)
	return err
}

func (c *StoreClient) ListSessionsByStatus(ctx context.Context, status string, limit int) ([]models.Session, error) {
	const q = `
		SELECT id, customer_id, started_at, ended_at, human_mode, customer_msg_count, ai_msg_count, resolution_status, summary
		FROM sessions
		WHERE resolution_status = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(
			&s.ID, &s.CustomerID, &s.StartedAt, &s.EndedAt, &s.HumanMode,
			&s.CustomerMsgCount, &s.AIMsgCount, &s.ResolutionStatus, &s.Summary,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Products

const productColumns = `id, code, name_en, name_zh, size, packaging, price, search_text, created_at`

func (c *StoreClient) SearchProductsExact(ctx context.Context, query string, limit int) ([]models.Product, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM products
		WHERE code ILIKE '%%' || $1 || '%%'
		   OR name_en ILIKE '%%' || $1 || '%%'
		   OR name_zh ILIKE '%%' || $1 || '%%'
		ORDER BY code
		LIMIT $2
	`, productColumns)
	return c.queryProducts(ctx, q, query, limit)
}

func (c *StoreClient) GetProductsByCodes(ctx context.Context, codes []string) ([]models.Product, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`
		SELECT %s FROM products
		WHERE code = ANY($1)
		ORDER BY code
	`, productColumns)
	rows, err := c.db.QueryContext(ctx, q, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProducts(rows)
}

func (c *StoreClient) SearchProductsFullText(ctx context.Context, query string, limit int) ([]models.Product, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM products
		WHERE to_tsvector('simple', search_text) @@ plainto_tsquery('simple', $1)
		ORDER BY code
		LIMIT $2
	`, productColumns)
	return c.queryProducts(ctx, q, query, limit)
}

func (c *StoreClient) SearchProductsSubstring(ctx context.Context, query string, limit int) ([]models.Product, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM products
		WHERE search_text ILIKE '%%' || $1 || '%%'
		ORDER BY code
		LIMIT $2
	`, productColumns)
	return c.queryProducts(ctx, q, query, limit)
}

func (c *StoreClient) SampleProducts(ctx context.Context, limit int) ([]models.Product, error) {
	q := fmt.Sprintf(`SELECT %s FROM products ORDER BY created_at DESC LIMIT $1`, productColumns)
	rows, err := c.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProducts(rows)
}

// SearchProductsByEmbedding ranks products by cosine similarity against the
// query vector and drops anything below minSimilarity.
func (c *StoreClient) SearchProductsByEmbedding(ctx context.Context, vec []float32, minSimilarity float64, limit int) ([]models.Product, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM products
		WHERE embedding IS NOT NULL
		  AND 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`, productColumns)
	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(vec), minSimilarity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProducts(rows)
}

func (c *StoreClient) queryProducts(ctx context.Context, q, query string, limit int) ([]models.Product, error) {
	rows, err := c.db.QueryContext(ctx, q, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProducts(rows)
}

func scanProducts(rows *sql.Rows) ([]models.Product, error) {
	var out []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(
			&p.ID, &p.Code, &p.NameEN, &p.NameZH, &p.Size, &p.Packaging,
			&p.Price, &p.SearchText, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Product aliases

func (c *StoreClient) FindActiveAliases(ctx context.Context, query string) ([]models.ProductAlias, error) {
	const q = `
		SELECT id, alias, product_code, active, usage_count, created_at
		FROM product_aliases
		WHERE active AND alias ILIKE '%' || $1 || '%'
	`
	rows, err := c.db.QueryContext(ctx, q, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ProductAlias
	for rows.Next() {
		var a models.ProductAlias
		if err := rows.Scan(&a.ID, &a.Alias, &a.ProductCode, &a.Active, &a.UsageCount, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (c *StoreClient) IncrementAliasUsage(ctx context.Context, aliasID string) error {
	const q = `UPDATE product_aliases SET usage_count = usage_count + 1 WHERE id = $1`
	_, err := c.db.ExecContext(ctx, q, aliasID)
	return err
}

// Knowledge base

func (c *StoreClient) SearchKnowledge(ctx context.Context, query, category string, limit int) ([]models.KnowledgeEntry, error) {
	const q = `
		SELECT id, question, answer, category, active, usage_count, confidence, created_at
		FROM knowledge_base
		WHERE active
		  AND (question ILIKE '%' || $1 || '%' OR answer ILIKE '%' || $1 || '%')
		  AND ($2 = '' OR category = $2)
		ORDER BY confidence DESC NULLS LAST
		LIMIT $3
	`
	rows, err := c.db.QueryContext(ctx, q, query, category, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.KnowledgeEntry
	for rows.Next() {
		var k models.KnowledgeEntry
		if err := rows.Scan(&k.ID, &k.Question, &k.Answer, &k.Category, &k.Active, &k.UsageCount, &k.Confidence, &k.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (c *StoreClient) IncrementKnowledgeUsage(ctx context.Context, entryID string) error {
	const q = `UPDATE knowledge_base SET usage_count = usage_count + 1 WHERE id = $1`
	_, err := c.db.ExecContext(ctx, q, entryID)
	return err
}

// Session locks

func (c *StoreClient) GetSessionLock(ctx context.Context, phone string) (*models.SessionLock, error) {
	const q = `SELECT phone, acquired_at, expires_at, locked FROM session_locks WHERE phone = $1`
	var l models.SessionLock
	err := c.db.QueryRowContext(ctx, q, phone).Scan(&l.Phone, &l.AcquiredAt, &l.ExpiresAt, &l.Locked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// AcquireSessionLock takes the lock iff no unexpired lock is held for the
// phone. The conditional upsert makes acquisition atomic under Postgres row
// locking, so two concurrent deliveries cannot both win.
func (c *StoreClient) AcquireSessionLock(ctx context.Context, phone string, ttl time.Duration) (bool, error) {
	const q = `
		INSERT INTO session_locks (phone, acquired_at, expires_at, locked)
		VALUES ($1, now(), now() + make_interval(secs => $2), TRUE)
		ON CONFLICT (phone) DO UPDATE
		SET acquired_at = EXCLUDED.acquired_at,
		    expires_at  = EXCLUDED.expires_at,
		    locked      = TRUE
		WHERE session_locks.expires_at <= now() OR NOT session_locks.locked
		RETURNING phone
	`
	var got string
	err := c.db.QueryRowContext(ctx, q, phone, ttl.Seconds()).Scan(&got)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *StoreClient) ReleaseSessionLock(ctx context.Context, phone string) error {
	const q = `UPDATE session_locks SET locked = FALSE, expires_at = now() WHERE phone = $1`
	_, err := c.db.ExecContext(ctx, q, phone)
	return err
}

// Agents

func (c *StoreClient) GetAgentByEmail(ctx context.Context, email string) (*models.Agent, error) {
	const q = `SELECT id, email, name, password_hash, created_at FROM agents WHERE email = $1`
	var a models.Agent
	err := c.db.QueryRowContext(ctx, q, email).Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *StoreClient) CreateAgent(ctx context.Context, a *models.Agent) error {
	if a == nil {
		return errors.New("nil agent")
	}
	const q = `
		INSERT INTO agents (id, email, name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`
	_, err := c.db.ExecContext(ctx, q, a.ID, a.Email, a.Name, a.PasswordHash, a.CreatedAt)
	return err
}
