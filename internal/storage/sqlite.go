package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"dealpipe/internal/model"
	"dealpipe/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection keeps :memory: databases coherent across the
	// pool and serializes writers instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new user and populates its ID.
func (s *SQLite) CreateUser(ctx context.Context, u *model.User) error {
	ids, err := json.Marshal(orEmptyMap(u.AffiliateIDs))
	if err != nil {
		return fmt.Errorf("marshal affiliate ids: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (affiliate_ids, created_at) VALUES (?, ?)`,
		string(ids), nowString(),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	return nil
}

// GetUser returns a single user by its ID.
func (s *SQLite) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	var ids string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, affiliate_ids FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &ids)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if err := json.Unmarshal([]byte(ids), &u.AffiliateIDs); err != nil {
		return nil, fmt.Errorf("unmarshal affiliate ids: %w", err)
	}
	return &u, nil
}

// CreateSource inserts a new source and populates its ID and CreatedAt.
func (s *SQLite) CreateSource(ctx context.Context, src *model.Source) error {
	now := nowString()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (user_id, name, type, url, active, last_fetched_at, fetch_count, error_count, last_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.UserID, src.Name, string(src.Type), src.URL, boolToInt(src.Active),
		timePtrToString(src.LastFetchedAt), src.FetchCount, src.ErrorCount, src.LastError, now,
	)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	src.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	src.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetSource returns a single source by its ID.
func (s *SQLite) GetSource(ctx context.Context, id int64) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx, sourceSelect+` WHERE id = ?`, id)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return src, err
}

// ListActiveFeedSources returns all active sources of type feed.
func (s *SQLite) ListActiveFeedSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx, sourceSelect+` WHERE active = 1 AND type = ? ORDER BY id`, string(model.SourceFeed))
	if err != nil {
		return nil, fmt.Errorf("query active sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

// RecordFetchSuccess marks a completed fetch: bumps fetch_count and
// clears the error fields in one statement.
func (s *SQLite) RecordFetchSuccess(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sources
		 SET last_fetched_at = ?, fetch_count = fetch_count + 1, error_count = 0, last_error = ''
		 WHERE id = ?`,
		at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("record fetch success: %w", err)
	}
	return nil
}

// RecordFetchError increments the source error counter and stores the message.
func (s *SQLite) RecordFetchError(ctx context.Context, id int64, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sources SET error_count = error_count + 1, last_error = ? WHERE id = ?`,
		msg, id,
	)
	if err != nil {
		return fmt.Errorf("record fetch error: %w", err)
	}
	return nil
}

// CreateChannel inserts a new channel and populates its ID and CreatedAt.
func (s *SQLite) CreateChannel(ctx context.Context, c *model.Channel) error {
	cfg, err := json.Marshal(orEmptyMap(c.Config))
	if err != nil {
		return fmt.Errorf("marshal channel config: %w", err)
	}
	now := nowString()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (user_id, name, type, config, active, message_count, last_message_at, error_count, last_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.UserID, c.Name, c.Type, string(cfg), boolToInt(c.Active),
		c.MessageCount, timePtrToString(c.LastMessageAt), c.ErrorCount, c.LastError, now,
	)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	c.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetChannel returns a single channel by its ID.
func (s *SQLite) GetChannel(ctx context.Context, id int64) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, type, config, active, message_count, last_message_at, error_count, last_error, created_at
		 FROM channels WHERE id = ?`, id,
	)
	var c model.Channel
	var cfg string
	var active int
	var lastMsg, created sql.NullString
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Type, &cfg, &active,
		&c.MessageCount, &lastMsg, &c.ErrorCount, &c.LastError, &created)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	c.Active = active == 1
	c.LastMessageAt = parseNullTime(lastMsg)
	if created.Valid {
		c.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	if err := json.Unmarshal([]byte(cfg), &c.Config); err != nil {
		return nil, fmt.Errorf("unmarshal channel config: %w", err)
	}
	return &c, nil
}

// RecordChannelSend marks a delivered message: bumps message_count and
// clears the error fields in one statement.
func (s *SQLite) RecordChannelSend(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels
		 SET message_count = message_count + 1, last_message_at = ?, error_count = 0, last_error = ''
		 WHERE id = ?`,
		at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("record channel send: %w", err)
	}
	return nil
}

// RecordChannelError increments the channel error counter and stores the message.
func (s *SQLite) RecordChannelError(ctx context.Context, id int64, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET error_count = error_count + 1, last_error = ? WHERE id = ?`,
		msg, id,
	)
	if err != nil {
		return fmt.Errorf("record channel error: %w", err)
	}
	return nil
}

// CreateRule inserts a new rule and populates its ID and CreatedAt.
func (s *SQLite) CreateRule(ctx context.Context, r *model.Rule) error {
	filters, err := json.Marshal(r.Filters)
	if err != nil {
		return fmt.Errorf("marshal rule filters: %w", err)
	}
	now := nowString()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (user_id, name, source_id, channel_id, filters, priority, active, match_count, last_matched_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.Name, r.SourceID, r.ChannelID, string(filters), r.Priority,
		boolToInt(r.Active), r.MatchCount, timePtrToString(r.LastMatchedAt), now,
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	r.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ListActiveRulesBySource returns the active rules for a source in
// dispatch order: priority descending, rule id ascending on ties.
func (s *SQLite) ListActiveRulesBySource(ctx context.Context, sourceID int64) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, source_id, channel_id, filters, priority, active, match_count, last_matched_at, created_at
		 FROM rules WHERE source_id = ? AND active = 1
		 ORDER BY priority DESC, id ASC`, sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.Rule
	for rows.Next() {
		var r model.Rule
		var filters string
		var active int
		var lastMatched, created sql.NullString
		err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.SourceID, &r.ChannelID,
			&filters, &r.Priority, &active, &r.MatchCount, &lastMatched, &created)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Active = active == 1
		r.LastMatchedAt = parseNullTime(lastMatched)
		if created.Valid {
			r.CreatedAt, _ = time.Parse(timeLayout, created.String)
		}
		if err := json.Unmarshal([]byte(filters), &r.Filters); err != nil {
			return nil, fmt.Errorf("unmarshal rule filters: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// RecordRuleMatch bumps the rule match counter and timestamp.
func (s *SQLite) RecordRuleMatch(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rules SET match_count = match_count + 1, last_matched_at = ? WHERE id = ?`,
		at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("record rule match: %w", err)
	}
	return nil
}

// CreateOffer inserts a new offer and populates its ID and CreatedAt.
// Returns ErrDuplicateOffer when an offer with the same hash exists;
// the unique index makes this check race-safe under concurrent ingestion.
func (s *SQLite) CreateOffer(ctx context.Context, o *model.Offer) error {
	meta, err := json.Marshal(orEmptyMap(o.Metadata))
	if err != nil {
		return fmt.Errorf("marshal offer metadata: %w", err)
	}
	channels, err := json.Marshal(orEmptySlice(o.SentToChannels))
	if err != nil {
		return fmt.Errorf("marshal sent channels: %w", err)
	}
	now := nowString()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO offers
		 (source_id, user_id, title, description, original_url, affiliate_url, image_url,
		  price, original_price, discount, platform, category, metadata,
		  status, sent_at, sent_to_channels, hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.SourceID, o.UserID, o.Title, o.Description, o.OriginalURL, o.AffiliateURL, o.ImageURL,
		o.Price, o.OriginalPrice, o.Discount, o.Platform, o.Category, string(meta),
		string(o.Status), timePtrToString(o.SentAt), string(channels), o.Hash, now,
	)
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicateOffer
	}
	o.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	o.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetOffer returns a single offer by its ID.
func (s *SQLite) GetOffer(ctx context.Context, id int64) (*model.Offer, error) {
	row := s.db.QueryRowContext(ctx, offerSelect+` WHERE id = ?`, id)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return o, err
}

// OfferHashExists reports whether an offer with the given hash exists.
func (s *SQLite) OfferHashExists(ctx context.Context, hash string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM offers WHERE hash = ?`, hash,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check offer hash: %w", err)
	}
	return count > 0, nil
}

// ListOffersByStatus returns up to limit offers in the given status,
// oldest first.
func (s *SQLite) ListOffersByStatus(ctx context.Context, status model.OfferStatus, limit int) ([]model.Offer, error) {
	rows, err := s.db.QueryContext(ctx,
		offerSelect+` WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query offers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var offers []model.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *o)
	}
	return offers, rows.Err()
}

// MarkOfferProcessing advances a pending offer to processing with its
// affiliate URL set. Returns false when the offer was not pending,
// which makes duplicate conversion jobs no-ops.
func (s *SQLite) MarkOfferProcessing(ctx context.Context, id int64, affiliateURL string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE offers SET affiliate_url = ?, status = ? WHERE id = ? AND status = ?`,
		affiliateURL, string(model.StatusProcessing), id, string(model.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("mark offer processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// FinalizeOfferDispatch moves a processing offer to its terminal
// dispatch status (sent or skipped). Returns false when the offer was
// not in processing.
func (s *SQLite) FinalizeOfferDispatch(ctx context.Context, id int64, status model.OfferStatus, sentAt *time.Time, sentToChannels []int64) (bool, error) {
	channels, err := json.Marshal(orEmptySlice(sentToChannels))
	if err != nil {
		return false, fmt.Errorf("marshal sent channels: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE offers SET status = ?, sent_at = ?, sent_to_channels = ? WHERE id = ? AND status = ?`,
		string(status), timePtrToString(sentAt), string(channels), id, string(model.StatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("finalize offer dispatch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkOfferFailed moves a processing offer to failed.
func (s *SQLite) MarkOfferFailed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE offers SET status = ? WHERE id = ? AND status = ?`,
		string(model.StatusFailed), id, string(model.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("mark offer failed: %w", err)
	}
	return nil
}

const sourceSelect = `SELECT id, user_id, name, type, url, active, last_fetched_at, fetch_count, error_count, last_error, created_at FROM sources`

const offerSelect = `SELECT id, source_id, user_id, title, description, original_url, affiliate_url, image_url,
 price, original_price, discount, platform, category, metadata, status, sent_at, sent_to_channels, hash, created_at FROM offers`

func nowString() string {
	return time.Now().UTC().Format(timeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtrToString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(timeLayout)
	return &v
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []int64) []int64 {
	if s == nil {
		return []int64{}
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSource(row scannable) (*model.Source, error) {
	var src model.Source
	var typ string
	var active int
	var lastFetched, created sql.NullString
	err := row.Scan(&src.ID, &src.UserID, &src.Name, &typ, &src.URL, &active,
		&lastFetched, &src.FetchCount, &src.ErrorCount, &src.LastError, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.Type = model.SourceType(typ)
	src.Active = active == 1
	src.LastFetchedAt = parseNullTime(lastFetched)
	if created.Valid {
		src.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &src, nil
}

func scanOffer(row scannable) (*model.Offer, error) {
	var o model.Offer
	var meta, status, channels string
	var price, origPrice sql.NullFloat64
	var discount sql.NullInt64
	var sentAt, created sql.NullString
	err := row.Scan(&o.ID, &o.SourceID, &o.UserID, &o.Title, &o.Description,
		&o.OriginalURL, &o.AffiliateURL, &o.ImageURL,
		&price, &origPrice, &discount, &o.Platform, &o.Category, &meta,
		&status, &sentAt, &channels, &o.Hash, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan offer: %w", err)
	}
	if price.Valid {
		v := price.Float64
		o.Price = &v
	}
	if origPrice.Valid {
		v := origPrice.Float64
		o.OriginalPrice = &v
	}
	if discount.Valid {
		v := int(discount.Int64)
		o.Discount = &v
	}
	o.Status = model.OfferStatus(status)
	o.SentAt = parseNullTime(sentAt)
	if created.Valid {
		o.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	if err := json.Unmarshal([]byte(meta), &o.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal offer metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(channels), &o.SentToChannels); err != nil {
		return nil, fmt.Errorf("unmarshal sent channels: %w", err)
	}
	return &o, nil
}
