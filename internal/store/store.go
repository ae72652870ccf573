// Package store is the SQL calendar: group events kept in a sqlite table
// and read through bun.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	appLog "groupcal/internal/log"
	"groupcal/internal/metrics"
	"groupcal/internal/model"
	"groupcal/internal/recur"
)

// Event is a row of the events table.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID          int64  `bun:"id,pk,autoincrement"`
	Scope       string `bun:"scope,notnull"`
	ScopeID     int    `bun:"scope_id,notnull"`
	CalendarID  int    `bun:"calendar_id,notnull"`
	Title       string `bun:"title,notnull"`
	Content     string `bun:"content"`
	AdresseInfo string `bun:"adresse_info"`

	PublishUp time.Time `bun:"publish_up,notnull"`
	// PublishDown is NULL for events without an end.
	PublishDown time.Time `bun:"publish_down,nullzero"`
	AllDay      bool      `bun:"allday"`

	RepeatingRule string            `bun:"repeating_rule"`
	State         int               `bun:"state,notnull"`
	Params        model.EventParams `bun:"params"`
}

// Store serves events of the events table.
type Store struct {
	db         *bun.DB
	loc        *time.Location
	linkFormat string
}

// Open opens the sqlite database at dsn. Failed queries are logged;
// BUNDEBUG=2 logs every query and BUNDEBUG=0 none.
func Open(dsn string, loc *time.Location, linkFormat string) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	if strings.Contains(dsn, ":memory:") {
		// Every connection to :memory: is a fresh database.
		sqldb.SetMaxOpenConns(1)
	}
	sqldb.SetMaxIdleConns(8)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(bundebug.FromEnv("BUNDEBUG")))
	return New(db, loc, linkFormat), nil
}

// New wraps an open database. loc anchors RRULE expansion; linkFormat
// builds event links, with {cn} replaced by the group and {id} by the row id.
func New(db *bun.DB, loc *time.Location, linkFormat string) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{db: db, loc: loc, linkFormat: linkFormat}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSchema creates the events table and its lookup index if missing.
func (s *Store) CreateSchema(ctx context.Context) error {
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewCreateTable().Model((*Event)(nil)).IfNotExists().Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewCreateIndex().
			Model((*Event)(nil)).
			Index("events_scope_publish_up_idx").
			IfNotExists().
			Column("scope", "scope_id", "publish_up").
			Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Insert adds ev and sets its id.
func (s *Store) Insert(ctx context.Context, ev *Event) error {
	if _, err := s.db.NewInsert().Model(ev).Exec(ctx); err != nil {
		return fmt.Errorf("insert event %q: %w", ev.Title, err)
	}
	return nil
}

// ListNonRepeating returns single events of q's scope starting in [From, To].
func (s *Store) ListNonRepeating(ctx context.Context, q model.EventQuery) ([]model.RawEvent, error) {
	var rows []Event
	err := s.scoped(q).
		Model(&rows).
		Where("repeating_rule = ''").
		Where("publish_up >= ?", q.From).
		Where("publish_up <= ?", q.To).
		Order("publish_up ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}

	out := make([]model.RawEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, s.toRaw(row, q.Scope.CN, row.PublishUp, row.PublishDown))
	}
	metrics.EventsListed.WithLabelValues("sql", "single").Add(float64(len(out)))
	return out, nil
}

// ListRepeating expands the series of q's scope that start by until into
// one event per occurrence in [From, min(To, until)]. Occurrences keep the
// series duration; series without an end stay open-ended.
func (s *Store) ListRepeating(ctx context.Context, q model.EventQuery, until time.Time) ([]model.RawEvent, error) {
	to := recur.Earliest(q.To, until)
	if to.Before(q.From) {
		return nil, nil
	}

	var rows []Event
	err := s.scoped(q).
		Model(&rows).
		Where("repeating_rule != ''").
		Where("publish_up <= ?", until).
		Order("publish_up ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select repeating events: %w", err)
	}

	var out []model.RawEvent
	for _, row := range rows {
		start := row.PublishUp.In(s.loc)
		starts, truncated, err := recur.Between(row.RepeatingRule, start, recur.Window{From: q.From, To: to})
		if err != nil {
			appLog.Warn("skipping series with bad rule", "id", row.ID, "rule", row.RepeatingRule, "err", err)
			continue
		}
		if truncated {
			appLog.Warn("series truncated", "id", row.ID, "cap", recur.DefaultMaxOccurrences)
		}
		for _, occ := range starts {
			end := time.Time{}
			if !row.PublishDown.IsZero() {
				end = occ.Add(row.PublishDown.Sub(row.PublishUp))
			}
			out = append(out, s.toRaw(row, q.Scope.CN, occ, end))
		}
	}
	metrics.EventsListed.WithLabelValues("sql", "repeating").Add(float64(len(out)))
	return out, nil
}

func (s *Store) scoped(q model.EventQuery) *bun.SelectQuery {
	sel := s.db.NewSelect().
		Where("scope = ?", q.Scope.Type).
		Where("scope_id = ?", q.Scope.ID)
	if q.CalendarID != 0 {
		sel = sel.Where("calendar_id = ?", q.CalendarID)
	}
	if len(q.States) > 0 {
		sel = sel.Where("state IN (?)", bun.In(q.States))
	}
	return sel
}

func (s *Store) toRaw(row Event, cn string, up, down time.Time) model.RawEvent {
	return model.RawEvent{
		ID:            row.ID,
		CalendarID:    row.CalendarID,
		Title:         row.Title,
		Location:      row.AdresseInfo,
		Content:       row.Content,
		PublishUp:     up,
		PublishDown:   down,
		AllDay:        row.AllDay,
		RepeatingRule: row.RepeatingRule,
		Params:        row.Params,
		Link: strings.NewReplacer(
			"{cn}", cn,
			"{id}", strconv.FormatInt(row.ID, 10),
		).Replace(s.linkFormat),
	}
}
