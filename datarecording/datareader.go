package datarecording

import (
	"context"
	"database/sql"
	"fmt"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
)

// QueryParams encapsulates all query parameters
type QueryParams struct {
	// Where holds the WHERE clause without the "WHERE" keyword
	// Example: "Trace = ? AND Message LIKE ?"
	Where string

	// Args holds the arguments for the placeholders in Where
	Args []any

	// Limit is the maximum number of records to return. Zero means no limit.
	Limit int

	// Offset is the number of records to skip
	Offset int

	// OrderBy specifies sorting, without the "ORDER BY" keywords.
	// Defaults to insertion order.
	OrderBy string
}

// TraceReader reads trace entries back from a database written through a
// RecorderSink.
type TraceReader struct {
	db *sql.DB
}

// NewTraceReader creates a TraceReader over db.
func NewTraceReader(db *sql.DB) *TraceReader {
	return &TraceReader{db: db}
}

// OpenTraceReader opens a recording file for reading.
func OpenTraceReader(filename string) (*TraceReader, error) {
	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, cnerrors.WrapFatal(err, "datarecording", "OpenTraceReader", "open "+filename)
	}

	return &TraceReader{db: db}, nil
}

// Query returns the matching entries and the total number of entries that
// match the Where clause regardless of Limit and Offset.
func (r *TraceReader) Query(
	ctx context.Context,
	params QueryParams,
) ([]TraceEntry, int, error) {
	where := ""
	if params.Where != "" {
		where = " WHERE " + params.Where
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM " + TraceTable + where
	err := r.db.QueryRowContext(ctx, countQuery, params.Args...).Scan(&total)
	if err != nil {
		return nil, 0, cnerrors.Wrap(err, "TraceReader", "Query", "count entries")
	}

	query := "SELECT ID, Time, Trace, Message FROM " + TraceTable + where

	orderBy := params.OrderBy
	if orderBy == "" {
		orderBy = "rowid"
	}
	query += " ORDER BY " + orderBy

	switch {
	case params.Limit > 0:
		query += fmt.Sprintf(" LIMIT %d", params.Limit)
	case params.Offset > 0:
		query += " LIMIT -1"
	}
	if params.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", params.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, params.Args...)
	if err != nil {
		return nil, 0, cnerrors.Wrap(err, "TraceReader", "Query", "select entries")
	}
	defer rows.Close()

	var entries []TraceEntry
	for rows.Next() {
		var e TraceEntry
		if err := rows.Scan(&e.ID, &e.Time, &e.Trace, &e.Message); err != nil {
			return nil, 0, cnerrors.Wrap(err, "TraceReader", "Query", "scan entry")
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, cnerrors.Wrap(err, "TraceReader", "Query", "read rows")
	}

	return entries, total, nil
}

// ComponentFilter returns the Where clause and arguments that select the
// entries of one component, whatever task logged them.
func ComponentFilter(component string) (string, []any) {
	return "Trace = ? OR Trace LIKE ?", []any{component, component + "::%"}
}

// Close closes the underlying database.
func (r *TraceReader) Close() error {
	return r.db.Close()
}
