package repo

import (
	"database/sql"

	"github.com/kekpa/swap-core/internal/bus"
	"github.com/kekpa/swap-core/internal/store"
	"go.uber.org/zap"
)

// Locations is the repository for cached place lookups. Append-mostly;
// pruned by store maintenance.
type Locations struct {
	base
}

// NewLocations creates the location cache repository.
func NewLocations(m *store.Manager, b *bus.Bus, logger *zap.Logger) *Locations {
	return &Locations{base{store: m, bus: b, logger: logger}}
}

// UpsertOne inserts or refreshes a cached location, idempotent on id.
func (r *Locations) UpsertOne(l *LocationRecord) bool {
	db, ok := r.conn()
	if !ok {
		return false
	}
	now := nowMilli()
	created := l.CreatedAt
	if created == 0 {
		created = now
	}
	payload := l.Payload
	if payload == "" {
		payload = "{}"
	}
	_, err := db.Exec(`
		INSERT INTO location_cache (id, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		l.ID, payload, created, now)
	if err != nil {
		r.logger.Error("upsert location failed", zap.Error(err), zap.String("id", l.ID))
		return false
	}
	r.notify(bus.LocationChanged, "location", l.ID)
	return true
}

// Get returns a cached location, nil when absent.
func (r *Locations) Get(id string) *LocationRecord {
	db, ok := r.conn()
	if !ok {
		return nil
	}
	var l LocationRecord
	err := db.QueryRow(`
		SELECT id, payload, created_at, updated_at
		FROM location_cache WHERE id = ?`, id).
		Scan(&l.ID, &l.Payload, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		r.logger.Error("get location failed", zap.Error(err), zap.String("id", id))
		return nil
	}
	return &l
}

// List returns the most recently refreshed locations.
func (r *Locations) List(limit int) []LocationRecord {
	db, ok := r.conn()
	if !ok {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, payload, created_at, updated_at
		FROM location_cache
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		r.logger.Error("list locations failed", zap.Error(err))
		return nil
	}
	defer func() { _ = rows.Close() }()

	var out []LocationRecord
	for rows.Next() {
		var l LocationRecord
		if err := rows.Scan(&l.ID, &l.Payload, &l.CreatedAt, &l.UpdatedAt); err != nil {
			r.logger.Error("scan location failed", zap.Error(err))
			return out
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("iterate locations failed", zap.Error(err))
	}
	return out
}

// DeleteOne removes a cached location.
func (r *Locations) DeleteOne(id string) bool {
	db, ok := r.conn()
	if !ok {
		return false
	}
	if _, err := db.Exec(`DELETE FROM location_cache WHERE id = ?`, id); err != nil {
		r.logger.Error("delete location failed", zap.Error(err), zap.String("id", id))
		return false
	}
	r.notify(bus.LocationChanged, "location", id)
	return true
}
