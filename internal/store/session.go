package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/fedgraph/internal/scan"
)

// buildScanQuery returns a query selecting every record inside one of the
// ranges, in key order. Records with equal keys come out grouped by
// visibility, then in insertion order.
func buildScanQuery(ranges []scan.Range) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	for _, r := range ranges {
		switch {
		case r.End == nil && len(r.Start) == 0:
			clauses = append(clauses, "1 = 1")
		case r.End == nil:
			clauses = append(clauses, "key >= ?")
			args = append(args, r.Start)
		default:
			clauses = append(clauses, "(key >= ? AND key < ?)")
			args = append(args, r.Start, r.End)
		}
	}
	if len(clauses) == 0 {
		clauses = append(clauses, "1 = 0")
	}
	query := `SELECT key, visibility, value FROM records WHERE ` +
		strings.Join(clauses, " OR ") +
		` ORDER BY key ASC, visibility ASC, seq ASC`
	return query, args
}

// OpenSession implements scan.SessionFactory.
func (s *Store) OpenSession(ctx context.Context, ranges []scan.Range, auths scan.Authorizations, opts scan.SessionOptions) (scan.Session, error) {
	query, args := buildScanQuery(ranges)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	var sess scan.Session = &session{rows: rows, auths: auths}
	if opts.RollUp && opts.Combiner != nil {
		sess = scan.RollUp(sess, opts.Combiner)
	}
	return sess, nil
}

type session struct {
	rows   *sql.Rows
	auths  scan.Authorizations
	cur    scan.RawRecord
	err    error
	closed bool
}

func (s *session) Next(ctx context.Context) bool {
	if s.closed || s.err != nil {
		return false
	}
	for s.rows.Next() {
		if err := ctx.Err(); err != nil {
			s.err = err
			return false
		}
		var rec scan.RawRecord
		if err := s.rows.Scan(&rec.Key, &rec.Visibility, &rec.Value); err != nil {
			s.err = fmt.Errorf("scan record: %w", err)
			return false
		}
		if !s.auths.CanSee(rec.Visibility) {
			continue
		}
		s.cur = rec
		return true
	}
	if err := s.rows.Err(); err != nil {
		s.err = fmt.Errorf("iterate records: %w", err)
	}
	return false
}

func (s *session) Record() scan.RawRecord { return s.cur }

func (s *session) Err() error { return s.err }

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.rows.Close()
}
