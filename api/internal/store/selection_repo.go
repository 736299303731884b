package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"babmutna-bot/api/internal/navigation"
)

// SelectionRepo journals confirmed menu choices. It is write-mostly: nothing
// here is read back into a session.
type SelectionRepo struct{ DB *sql.DB }

func NewSelectionRepo(db *sql.DB) *SelectionRepo { return &SelectionRepo{DB: db} }

const schema = `
create table if not exists menu_selections (
	id             bigserial primary key,
	created_at     timestamptz not null default now(),
	session_id     text not null,
	cafeteria_menu text not null,
	menu           text not null,
	method         text not null,
	latitude       double precision,
	longitude      double precision
);
create index if not exists menu_selections_created_at_idx on menu_selections (created_at);`

func (r *SelectionRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

// RecordSelection implements navigation.SelectionRecorder.
func (r *SelectionRepo) RecordSelection(ctx context.Context, s navigation.Selection) error {
	var lat, lng sql.NullFloat64
	if s.Coords != nil {
		lat = sql.NullFloat64{Float64: s.Coords.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: s.Coords.Longitude, Valid: true}
	}
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}
	const q = `
insert into menu_selections(created_at, session_id, cafeteria_menu, menu, method, latitude, longitude)
values ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.DB.ExecContext(ctx, q, at, s.SessionID, s.CafeteriaMenu, s.Menu, string(s.Method), lat, lng)
	return err
}

type MenuCount struct {
	Menu  string
	Count int
}

// TopMenus returns the most chosen menus since the given time.
func (r *SelectionRepo) TopMenus(ctx context.Context, since time.Time, limit int) ([]MenuCount, error) {
	if limit <= 0 {
		limit = 5
	}
	const q = `
select menu, count(*) as n
from menu_selections
where created_at >= $1
group by menu
order by n desc, menu
limit $2`
	rows, err := r.DB.QueryContext(ctx, q, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MenuCount
	for rows.Next() {
		var mc MenuCount
		if err := rows.Scan(&mc.Menu, &mc.Count); err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

// PurgeOlderThan drops old journal rows.
func (r *SelectionRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	res, err := r.DB.ExecContext(ctx, `delete from menu_selections where created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}
