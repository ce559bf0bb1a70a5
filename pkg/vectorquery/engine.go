package vectorquery

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

const (
	// queryTimeout is the hard deadline for a single tool-issued query.
	queryTimeout = 10 * time.Second

	// minRowCap is the floor for the row cap; callers asking for fewer rows
	// still get up to this many.
	minRowCap = 25

	// MaxResultChars caps the serialized result size.
	MaxResultChars = 25000
)

// Result holds the column headers and row values of a query.
type Result struct {
	Headers []string
	Rows    [][]string
}

// CSV serializes the result. It fails if the output would exceed
// MaxResultChars.
func (r *Result) CSV() (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(r.Headers); err != nil {
		return "", fmt.Errorf("failed to serialize result: %w", err)
	}
	if err := w.WriteAll(r.Rows); err != nil {
		return "", fmt.Errorf("failed to serialize result: %w", err)
	}
	if sb.Len() > MaxResultChars {
		return "", fmt.Errorf("result is %d characters, exceeding the %d character limit; narrow the query", sb.Len(), MaxResultChars)
	}
	return sb.String(), nil
}

// Engine executes SQL over cached layer files in a fresh in-memory DuckDB
// per query. Queries see exactly one layer, aliased to its layer id.
type Engine struct {
	cache *LayerCache
}

// NewEngine creates an Engine over the given cache.
func NewEngine(cache *LayerCache) *Engine {
	return &Engine{cache: cache}
}

// Query runs sqlText against the named layer's cached geopackage. maxRows
// below the floor is raised to it. The database is in-memory and discarded
// after the query, so no state leaks between calls.
func (e *Engine) Query(ctx context.Context, layerID, objectKey, sqlText string, maxRows int) (*Result, error) {
	if maxRows < minRowCap {
		maxRows = minRowCap
	}

	path, release, err := e.cache.Acquire(ctx, layerID, objectKey)
	if err != nil {
		return nil, err
	}
	defer release()

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open query engine: %w", err)
	}
	defer db.Close()

	conn, err := db.Conn(queryCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to open query connection: %w", err)
	}
	defer conn.Close()

	for _, stmt := range []string{
		"INSTALL spatial",
		"LOAD spatial",
		fmt.Sprintf("CREATE VIEW %q AS SELECT * FROM ST_Read(%s)", layerID, quoteLiteral(path)),
	} {
		if _, err := conn.ExecContext(queryCtx, stmt); err != nil {
			return nil, fmt.Errorf("failed to prepare layer table: %w", err)
		}
	}

	rows, err := conn.QueryContext(queryCtx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	headers, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	result := &Result{Headers: headers}
	values := make([]any, len(headers))
	ptrs := make([]any, len(headers))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() && len(result.Rows) < maxRows {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		row := make([]string, len(headers))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return result, nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// quoteLiteral single-quotes a string for interpolation into SQL. The path
// is server-generated but quoting keeps the statement well-formed for any
// filename.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
