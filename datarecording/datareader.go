package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/structs"
)

// QueryParams narrows and pages a query on a recorded table.
type QueryParams struct {
	// Where is a condition without the WHERE keyword, such as
	// "Step > ? AND Function = ?".
	Where string

	// Args fill the placeholders of Where.
	Args []any

	// Limit caps the number of entries returned. Zero means no cap.
	Limit int

	// Offset skips entries. It only applies together with Limit.
	Offset int

	// OrderBy sorts the entries, without the ORDER BY keywords.
	OrderBy string
}

// DataReader reads a recording back into the entry types it was written
// from.
type DataReader interface {
	// MapTable binds a table to the entry type whose fields are its columns.
	// A table must be mapped before it is queried.
	MapTable(tableName string, sampleEntry any)

	// ListTables returns the mapped tables in mapping order.
	ListTables() []string

	// Query returns pointers to entries of the mapped type, and the number
	// of rows matching Where regardless of Limit.
	Query(ctx context.Context, tableName string, params QueryParams) (
		results []any,
		totalCount int,
		err error,
	)

	// Close closes the database.
	Close() error
}

type mappedTable struct {
	entryType reflect.Type
	columns   []string
}

type sqliteReader struct {
	*sql.DB

	tables    map[string]mappedTable
	tableList []string
}

// NewReader opens an existing recording file read-only.
func NewReader(path string) (DataReader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open recording %s: %w", path, err)
	}

	return NewReaderWithDB(db), nil
}

// NewReaderWithDB reads from an open database.
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{
		DB:     db,
		tables: make(map[string]mappedTable),
	}
}

// MapRecorderTables maps every table a Recorder writes to its entry type.
func MapRecorderTables(r DataReader) {
	r.MapTable(TablePublication, PublicationEntry{})
	r.MapTable(TableStaleWrite, StaleWriteEntry{})
	r.MapTable(TableEngineState, EngineStateEntry{})
	r.MapTable(TableEngineRetry, EngineRetryEntry{})
	r.MapTable(TableTFInvocation, TFInvocationEntry{})
	r.MapTable(TableTFSkip, TFSkipEntry{})
	r.MapTable(TableStep, StepEntry{})
}

func (r *sqliteReader) MapTable(tableName string, sampleEntry any) {
	if _, ok := r.tables[tableName]; !ok {
		r.tableList = append(r.tableList, tableName)
	}

	r.tables[tableName] = mappedTable{
		entryType: reflect.TypeOf(sampleEntry),
		columns:   structs.Names(sampleEntry),
	}
}

func (r *sqliteReader) ListTables() []string {
	return append([]string(nil), r.tableList...)
}

func (r *sqliteReader) Query(
	ctx context.Context,
	tableName string,
	params QueryParams,
) ([]any, int, error) {
	table, ok := r.tables[tableName]
	if !ok {
		return nil, 0, fmt.Errorf("table %s is not mapped", tableName)
	}

	where := ""
	if params.Where != "" {
		where = " WHERE " + params.Where
	}

	var total int

	err := r.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+tableName+where, params.Args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query := "SELECT " + strings.Join(table.columns, ", ") +
		" FROM " + tableName + where

	if params.OrderBy != "" {
		query += " ORDER BY " + params.OrderBy
	}

	if params.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", params.Limit, params.Offset)
	}

	rows, err := r.QueryContext(ctx, query, params.Args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []any

	for rows.Next() {
		entry := reflect.New(table.entryType)

		fields := make([]any, len(table.columns))
		for i, c := range table.columns {
			fields[i] = entry.Elem().FieldByName(c).Addr().Interface()
		}

		if err := rows.Scan(fields...); err != nil {
			return nil, 0, err
		}

		results = append(results, entry.Interface())
	}

	return results, total, rows.Err()
}

func (r *sqliteReader) Close() error {
	return r.DB.Close()
}
