package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"guidebot/internal/domain"
)

// SQLiteStore implements the record store interfaces (guides, bookings,
// dedup messages, memory, strands, availability) using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS guides (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			location   TEXT NOT NULL,
			phone      TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT 'pending_approval',
			data       TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_guides_location ON guides(location, status);
		CREATE INDEX IF NOT EXISTS idx_guides_phone ON guides(phone);

		CREATE TABLE IF NOT EXISTS bookings (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			guide_id   TEXT NOT NULL,
			data       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			hash       TEXT PRIMARY KEY,
			expires_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS memory (
			user_id    TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS strands (
			user_id   TEXT NOT NULL,
			strand_id TEXT NOT NULL,
			data      TEXT NOT NULL,
			PRIMARY KEY (user_id, strand_id)
		);

		CREATE TABLE IF NOT EXISTS availability (
			guide_id TEXT NOT NULL,
			date     TEXT NOT NULL,
			slots    TEXT NOT NULL DEFAULT '{}',
			bookings INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (guide_id, date)
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- GuideStore ---

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Guide, error) {
	row := s.db.QueryRowContext(ctx, "SELECT data FROM guides WHERE id = ?", id)
	return scanGuide(row)
}

func (s *SQLiteStore) Create(ctx context.Context, g *domain.Guide) error {
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal guide: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO guides (id, name, location, phone, status, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		g.ID, g.Name, g.Location, g.Phone, g.Status, string(data),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewSubSystemError("guide", "Store.CreateGuide", domain.ErrDuplicate, g.ID)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, g *domain.Guide) error {
	g.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal guide: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE guides SET name = ?, location = ?, phone = ?, status = ?, data = ?, updated_at = ? WHERE id = ?",
		g.Name, g.Location, g.Phone, g.Status, string(data),
		g.UpdatedAt.Format(time.RFC3339Nano), g.ID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrGuideNotFound
	}
	return nil
}

func (s *SQLiteStore) ListByLocation(ctx context.Context, location string) ([]*domain.Guide, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM guides WHERE location = ? AND status = ? ORDER BY id", location, domain.GuideStatusActive)
	if err != nil {
		return nil, err
	}
	return collectGuides(rows)
}

func (s *SQLiteStore) ListActive(ctx context.Context) ([]*domain.Guide, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM guides WHERE status = ? ORDER BY id", domain.GuideStatusActive)
	if err != nil {
		return nil, err
	}
	return collectGuides(rows)
}

func (s *SQLiteStore) FindByPhone(ctx context.Context, phone string) (*domain.Guide, error) {
	row := s.db.QueryRowContext(ctx, "SELECT data FROM guides WHERE phone = ?", phone)
	return scanGuide(row)
}

func scanGuide(row *sql.Row) (*domain.Guide, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrGuideNotFound
		}
		return nil, err
	}
	var g domain.Guide
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, fmt.Errorf("unmarshal guide: %w", err)
	}
	return &g, nil
}

func collectGuides(rows *sql.Rows) ([]*domain.Guide, error) {
	defer rows.Close()
	var guides []*domain.Guide
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var g domain.Guide
		if err := json.Unmarshal([]byte(data), &g); err != nil {
			return nil, fmt.Errorf("unmarshal guide: %w", err)
		}
		guides = append(guides, &g)
	}
	return guides, rows.Err()
}

// --- BookingStore ---

func (s *SQLiteStore) CreateBooking(ctx context.Context, b *domain.Booking) error {
	b.CreatedAt = time.Now().UTC()
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal booking: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO bookings (id, user_id, guide_id, data, created_at) VALUES (?, ?, ?, ?, ?)",
		b.ID, b.UserID, b.GuideID, string(data), b.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewSubSystemError("booking", "Store.CreateBooking", domain.ErrDuplicate, b.ID)
	}
	return nil
}

func (s *SQLiteStore) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM bookings WHERE id = ?", id).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var b domain.Booking
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, fmt.Errorf("unmarshal booking: %w", err)
	}
	return &b, nil
}

func (s *SQLiteStore) ListBookings(ctx context.Context, userID string) ([]*domain.Booking, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM bookings WHERE user_id = ? ORDER BY created_at", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bookings []*domain.Booking
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var b domain.Booking
		if err := json.Unmarshal([]byte(data), &b); err != nil {
			return nil, fmt.Errorf("unmarshal booking: %w", err)
		}
		bookings = append(bookings, &b)
	}
	return bookings, rows.Err()
}

// --- DedupStore ---

// Register implements conditional create-if-absent for a message hash.
// An expired row does not count as a duplicate.
func (s *SQLiteStore) Register(ctx context.Context, hash string, ttl time.Duration) error {
	now := time.Now().Unix()
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE hash = ? AND expires_at <= ?", hash, now); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO messages (hash, expires_at) VALUES (?, ?)",
		hash, now+int64(ttl.Seconds()),
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrDuplicate
	}
	return nil
}

func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE expires_at <= ?", time.Now().Unix())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- MemoryStore ---

func (s *SQLiteStore) GetMemory(ctx context.Context, userID string) (*domain.UserMemory, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM memory WHERE user_id = ?", userID).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.WrapOp("Store.GetMemory", err)
	}
	var m domain.UserMemory
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal memory: %w", err)
	}
	return &m, nil
}

func (s *SQLiteStore) PutMemory(ctx context.Context, m *domain.UserMemory) error {
	m.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory (user_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		m.UserID, string(data), m.UpdatedAt.Format(time.RFC3339Nano),
	)
	return domain.WrapOp("Store.PutMemory", err)
}

func (s *SQLiteStore) DeleteMemory(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM memory WHERE user_id = ?", userID)
	return domain.WrapOp("Store.DeleteMemory", err)
}

// --- StrandStore ---

func (s *SQLiteStore) ListStrands(ctx context.Context, userID string) ([]*domain.Strand, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM strands WHERE user_id = ? ORDER BY strand_id", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var strands []*domain.Strand
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var st domain.Strand
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			return nil, fmt.Errorf("unmarshal strand: %w", err)
		}
		strands = append(strands, &st)
	}
	return strands, rows.Err()
}

func (s *SQLiteStore) PutStrand(ctx context.Context, st *domain.Strand) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal strand: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO strands (user_id, strand_id, data) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, strand_id) DO UPDATE SET data = excluded.data`,
		st.UserID, st.ID, string(data),
	)
	return domain.WrapOp("Store.PutStrand", err)
}

func (s *SQLiteStore) DeleteStrand(ctx context.Context, userID, strandID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM strands WHERE user_id = ? AND strand_id = ?", userID, strandID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrStrandNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteStrandsForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM strands WHERE user_id = ?", userID)
	return domain.WrapOp("Store.DeleteStrandsForUser", err)
}

// --- AvailabilityStore ---

func (s *SQLiteStore) GetAvailability(ctx context.Context, guideID, date string) (*domain.Availability, error) {
	var slotsJSON string
	var bookings int
	err := s.db.QueryRowContext(ctx,
		"SELECT slots, bookings FROM availability WHERE guide_id = ? AND date = ?",
		guideID, date).Scan(&slotsJSON, &bookings)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	a := &domain.Availability{GuideID: guideID, Date: date, Bookings: bookings}
	if err := json.Unmarshal([]byte(slotsJSON), &a.Slots); err != nil {
		return nil, fmt.Errorf("unmarshal availability slots: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) PutAvailability(ctx context.Context, a *domain.Availability) error {
	slotsJSON, err := json.Marshal(a.Slots)
	if err != nil {
		return fmt.Errorf("marshal availability slots: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO availability (guide_id, date, slots, bookings) VALUES (?, ?, ?, ?)
		 ON CONFLICT(guide_id, date) DO UPDATE SET slots = excluded.slots, bookings = excluded.bookings`,
		a.GuideID, a.Date, string(slotsJSON), a.Bookings,
	)
	return domain.WrapOp("Store.PutAvailability", err)
}

func (s *SQLiteStore) RecordBooking(ctx context.Context, guideID, date string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO availability (guide_id, date, slots, bookings) VALUES (?, ?, '{}', 1)
		 ON CONFLICT(guide_id, date) DO UPDATE SET bookings = bookings + 1`,
		guideID, date,
	)
	return domain.WrapOp("Store.RecordBooking", err)
}
