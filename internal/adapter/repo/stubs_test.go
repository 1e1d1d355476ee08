package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"analyzer/internal/domain"
	"analyzer/internal/infra"
)

type execCall struct {
	query string
	args  []any
}

// stubSQL answers queries by their sqlinline constant.
type stubSQL struct {
	rows    map[string]func(dest ...any) error
	many    map[string][]func(dest ...any) error
	execTag map[string]pgconn.CommandTag
	execErr map[string]error
	execs   []execCall
	queried []string
	inTx    int
}

func newStubSQL() *stubSQL {
	return &stubSQL{
		rows:    map[string]func(dest ...any) error{},
		many:    map[string][]func(dest ...any) error{},
		execTag: map[string]pgconn.CommandTag{},
		execErr: map[string]error{},
	}
}

func (s *stubSQL) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, execCall{query: query, args: args})
	if err := s.execErr[query]; err != nil {
		return pgconn.CommandTag{}, err
	}
	if tag, ok := s.execTag[query]; ok {
		return tag, nil
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (s *stubSQL) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queried = append(s.queried, query)
	return simpleRow{scan: s.rows[query]}
}

func (s *stubSQL) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.queried = append(s.queried, query)
	return &stubRows{scans: s.many[query], idx: -1}, nil
}

func (s *stubSQL) InTx(ctx context.Context, fn func(infra.SQLExecutor) error) error {
	s.inTx++
	return fn(s)
}

type simpleRow struct {
	scan func(dest ...any) error
}

func (r simpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type stubRows struct {
	rowsBase
	scans []func(dest ...any) error
	idx   int
}

func (r *stubRows) Next() bool {
	r.idx++
	return r.idx < len(r.scans)
}

func (r *stubRows) Scan(dest ...any) error { return r.scans[r.idx](dest...) }

type rowsBase struct{}

func (rowsBase) Close()                                       {}
func (rowsBase) Err() error                                   { return nil }
func (rowsBase) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (rowsBase) Conn() *pgx.Conn                              { return nil }
func (rowsBase) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (rowsBase) RawValues() [][]byte                          { return nil }
func (rowsBase) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func scanInt(v int) func(dest ...any) error {
	return func(dest ...any) error {
		p, ok := dest[0].(*int)
		if !ok {
			return errors.New("want *int")
		}
		*p = v
		return nil
	}
}

func scanString(v string) func(dest ...any) error {
	return func(dest ...any) error {
		p, ok := dest[0].(*string)
		if !ok {
			return errors.New("want *string")
		}
		*p = v
		return nil
	}
}

// scanRequestRow fills dest in the order of sqlinline.requestColumns.
func scanRequestRow(req domain.Request) func(dest ...any) error {
	return func(dest ...any) error {
		if len(dest) != 19 {
			return fmt.Errorf("want 19 columns, got %d", len(dest))
		}
		*dest[0].(*string) = req.ID
		*dest[1].(*string) = req.Owner
		*dest[2].(*string) = req.CategoryID
		*dest[3].(*string) = req.AdviceID
		*dest[4].(*[]string) = req.ImageRefs
		*dest[5].(*int) = req.ImageCount
		*dest[6].(*string) = req.ExtractedText
		*dest[7].(*string) = req.AnalysisResult
		*dest[8].(*string) = req.Fingerprint
		*dest[9].(*bool) = req.CacheHit
		*dest[10].(*string) = req.SourceRequestID
		*dest[11].(**int) = req.Rating
		*dest[12].(*string) = string(req.State)
		*dest[13].(*string) = req.FailureReason
		*dest[14].(*int) = req.ExtractionFailures
		*dest[15].(*time.Time) = req.UsageDay
		*dest[16].(*int) = req.ReservedUnits
		*dest[17].(*time.Time) = req.CreatedAt
		*dest[18].(*time.Time) = req.UpdatedAt
		return nil
	}
}
