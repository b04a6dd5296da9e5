package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rtrader-bridge/src/helpers"
	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"
)

// dialect holds what differs between the SQLite and PostgreSQL stores.
type dialect struct {
	// table qualifies a table name, e.g. with a schema.
	table func(name string) string
	// dollar placeholders ($1, $2...) instead of ?.
	dollar bool
}

// -----------------------------------------------------------------------------
// sqlStore implements the shared inserts and queries. Timestamps are stored
// as unix milliseconds and prices as decimal text.
// -----------------------------------------------------------------------------

type sqlStore struct {
	DB            *sql.DB
	Logger        *logger.Logger
	RetentionDays int
	dialect       dialect
}

func (s *sqlStore) bind(query string) string {
	if !s.dialect.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) t(name string) string {
	return s.dialect.table(name)
}

// -----------------------------------------------------------------------------

func (s *sqlStore) inTx(what string, fn func(tx *sql.Tx) error) error {
	if s.DB == nil {
		return helpers.NewStorageError(what, fmt.Errorf("database not initialized"))
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return helpers.NewStorageError(what, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return helpers.NewStorageError(what, err)
	}
	if err := tx.Commit(); err != nil {
		return helpers.NewStorageError(what, err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *sqlStore) SaveQuoteUpdates(updates []models.MQuoteUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.inTx("save quote updates", func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(s.bind(fmt.Sprintf(`
			INSERT INTO %s (seq, symbol, bid, ask, prev_bid, prev_ask, spread, mid, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.t("quote_updates"))))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, u := range updates {
			_, err := stmt.Exec(u.Seq, u.Symbol, u.Bid.String(), u.Ask.String(), u.PrevBid.String(),
				u.PrevAsk.String(), u.Spread.String(), u.Mid.String(), u.Timestamp.UnixMilli())
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// -----------------------------------------------------------------------------

func (s *sqlStore) SavePortReports(reports []models.MPortReport) error {
	if len(reports) == 0 {
		return nil
	}
	return s.inTx("save port reports", func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(s.bind(fmt.Sprintf(`
			INSERT INTO %s (run_id, host, port, open, responsive, probes, scanned_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, s.t("port_reports"))))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range reports {
			probes, err := json.Marshal(r.Probes)
			if err != nil {
				return err
			}
			if _, err := stmt.Exec(r.RunID, r.Host, r.Port, r.Open, r.Responsive(), string(probes), r.ScannedAt.UnixMilli()); err != nil {
				return err
			}
		}
		return nil
	})
}

// -----------------------------------------------------------------------------

func (s *sqlStore) SaveFrames(frames []models.MCapturedFrame) error {
	if len(frames) == 0 {
		return nil
	}
	return s.inTx("save frames", func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(s.bind(fmt.Sprintf(`
			INSERT INTO %s (origin, session_id, ts, source, destination, direction, template, summary, hex, truncated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.t("frames"))))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, f := range frames {
			_, err := stmt.Exec(f.Origin, f.SessionID, f.Timestamp.UnixMilli(), f.Source, f.Destination,
				f.Direction, f.Template, f.Summary, f.Hex, f.Truncated)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// -----------------------------------------------------------------------------

func (s *sqlStore) RecentFrames(limit int) ([]models.MCapturedFrame, error) {
	if s.DB == nil {
		return nil, helpers.NewStorageError("recent frames", fmt.Errorf("database not initialized"))
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.DB.Query(s.bind(fmt.Sprintf(`
		SELECT origin, session_id, ts, source, destination, direction, template, summary, hex, truncated
		FROM %s ORDER BY ts DESC, id DESC LIMIT ?
	`, s.t("frames"))), limit)
	if err != nil {
		return nil, helpers.NewStorageError("recent frames", err)
	}
	defer rows.Close()

	var out []models.MCapturedFrame
	for rows.Next() {
		var (
			f  models.MCapturedFrame
			ts int64
		)
		if err := rows.Scan(&f.Origin, &f.SessionID, &ts, &f.Source, &f.Destination, &f.Direction,
			&f.Template, &f.Summary, &f.Hex, &f.Truncated); err != nil {
			return nil, helpers.NewStorageError("scan frame", err)
		}
		f.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, helpers.NewStorageError("recent frames", err)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// CleanupOldData deletes rows older than the retention window. A zero
// retention keeps everything.
func (s *sqlStore) CleanupOldData() error {
	if s.RetentionDays <= 0 || s.DB == nil {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -s.RetentionDays).UnixMilli()
	s.Logger.Info("Cleaning up data older than %d days", s.RetentionDays)

	for table, column := range map[string]string{
		"quote_updates": "ts",
		"port_reports":  "scanned_at",
		"frames":        "ts",
	} {
		query := s.bind(fmt.Sprintf("DELETE FROM %s WHERE %s < ?", s.t(table), column))
		if _, err := s.DB.Exec(query, cutoff); err != nil {
			s.Logger.Error("Cleanup %s error: %v", table, err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *sqlStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}
