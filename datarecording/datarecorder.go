// Package datarecording persists rendered trace lines into SQLite.
package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
)

// DataRecorder buffers rows of flat structs and writes them into tables.
type DataRecorder interface {
	// CreateTable creates a table whose columns are the fields of sampleEntry.
	CreateTable(tableName string, sampleEntry any) error

	// InsertData buffers an entry for a table that already exists.
	InsertData(tableName string, entry any) error

	// ListTables returns the names of the tables created, sorted.
	ListTables() []string

	// Flush writes every buffered entry into the database.
	Flush() error

	// Close flushes and closes the database.
	Close() error
}

// DefaultBatchSize is the number of buffered entries that triggers a flush.
const DefaultBatchSize = 1000

// New creates a DataRecorder that writes into <path>.sqlite3. An empty path
// picks a unique name. The recorder is flushed when the process exits through
// atexit.
func New(path string) (DataRecorder, error) {
	if path == "" {
		path = "cnet_trace_" + xid.New().String()
	}

	filename := path + ".sqlite3"

	if _, err := os.Stat(filename); err == nil {
		return nil, cnerrors.WrapInvalid(cnerrors.ErrInvalidConfig,
			"datarecording", "New", "file "+filename+" already exists")
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, cnerrors.WrapFatal(err, "datarecording", "New", "open database")
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", filename)

	w := newWriter(db)
	w.owned = true
	atexit.Register(func() { _ = w.Flush() })

	return w, nil
}

// NewWithDB creates a DataRecorder with a given database. Closing the
// recorder does not close db.
func NewWithDB(db *sql.DB) DataRecorder {
	return newWriter(db)
}

type table struct {
	structType reflect.Type
	columns    []string
	entries    []any
}

type sqliteWriter struct {
	lock sync.Mutex

	db         *sql.DB
	owned      bool
	tables     map[string]*table
	batchSize  int
	entryCount int
}

func newWriter(db *sql.DB) *sqliteWriter {
	return &sqliteWriter{
		db:        db,
		tables:    make(map[string]*table),
		batchSize: DefaultBatchSize,
	}
}

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func checkStructFields(entry any) error {
	t := reflect.TypeOf(entry)
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("%w: entry must be a struct, got %T", cnerrors.ErrType, entry)
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !isAllowedKind(field.Type.Kind()) {
			return fmt.Errorf("%w: field %s of %s has kind %s",
				cnerrors.ErrType, field.Name, t.Name(), field.Type.Kind())
		}
	}

	return nil
}

func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) error {
	if err := checkStructFields(sampleEntry); err != nil {
		return cnerrors.WrapInvalid(err, "datarecording", "CreateTable", tableName)
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	if _, exists := w.tables[tableName]; exists {
		return nil
	}

	columns := structs.Names(sampleEntry)
	fields := strings.Join(columns, ", \n\t")

	createTableSQL := `CREATE TABLE IF NOT EXISTS ` + tableName +
		` (` + "\n\t" + fields + "\n" + `);`
	if _, err := w.db.Exec(createTableSQL); err != nil {
		return cnerrors.Wrap(err, "datarecording", "CreateTable", "create "+tableName)
	}

	w.tables[tableName] = &table{
		structType: reflect.TypeOf(sampleEntry),
		columns:    columns,
	}

	return nil
}

func (w *sqliteWriter) InsertData(tableName string, entry any) error {
	w.lock.Lock()

	t, exists := w.tables[tableName]
	if !exists {
		w.lock.Unlock()
		return cnerrors.WrapInvalid(cnerrors.ErrInvalidConfig,
			"datarecording", "InsertData", "table "+tableName+" does not exist")
	}

	if reflect.TypeOf(entry) != t.structType {
		w.lock.Unlock()
		return cnerrors.WrapInvalid(
			fmt.Errorf("%w: want %s, got %T", cnerrors.ErrType, t.structType, entry),
			"datarecording", "InsertData", tableName)
	}

	t.entries = append(t.entries, entry)
	w.entryCount++
	full := w.entryCount >= w.batchSize

	w.lock.Unlock()

	if full {
		return w.Flush()
	}

	return nil
}

func (w *sqliteWriter) ListTables() []string {
	w.lock.Lock()
	defer w.lock.Unlock()

	names := make([]string, 0, len(w.tables))
	for name := range w.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (w *sqliteWriter) Flush() error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.entryCount == 0 {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return cnerrors.WrapTransient(err, "datarecording", "Flush", "begin transaction")
	}

	for name, t := range w.tables {
		if len(t.entries) == 0 {
			continue
		}

		if err := insertAll(tx, name, t); err != nil {
			_ = tx.Rollback()
			return cnerrors.Wrap(err, "datarecording", "Flush", "insert into "+name)
		}
	}

	if err := tx.Commit(); err != nil {
		return cnerrors.WrapTransient(err, "datarecording", "Flush", "commit")
	}

	for _, t := range w.tables {
		t.entries = nil
	}
	w.entryCount = 0

	return nil
}

func insertAll(tx *sql.Tx, name string, t *table) error {
	placeholders := make([]string, len(t.columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	stmt, err := tx.Prepare("INSERT INTO " + name +
		" (" + strings.Join(t.columns, ", ") + ")" +
		" VALUES (" + strings.Join(placeholders, ", ") + ")")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, entry := range t.entries {
		if _, err := stmt.Exec(structs.Values(entry)...); err != nil {
			return err
		}
	}

	return nil
}

func (w *sqliteWriter) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}

	if w.owned {
		return w.db.Close()
	}

	return nil
}
