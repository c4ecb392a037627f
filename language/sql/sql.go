// Package sql runs SQL scripts against an in-memory SQLite database.
//
// The database lives as long as the sandbox, so tables created by one
// execution are visible to the next.
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/houyanchao/coderun/guest"
	"github.com/houyanchao/coderun/language"
	"github.com/houyanchao/coderun/protocol"
	"github.com/houyanchao/coderun/runner"
)

const DefaultTimeout = 10 * time.Second

var samples = runner.Samples{
	Placeholder: "-- Write SQL here\nSELECT 'Hello, SQL!' AS greeting;",
	Example: `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, age INTEGER);

INSERT INTO users (name, age) VALUES
  ('Alice', 30),
  ('Bob', 25),
  ('Carol', 35);

SELECT name, age FROM users WHERE age > 26 ORDER BY age;

SELECT COUNT(*) AS total, AVG(age) AS average_age FROM users;`,
}

func NewRunner(desc language.Descriptor, opts runner.Options) (runner.Runner, error) {
	return runner.NewSandboxed(desc, NewEngine, samples, DefaultTimeout, opts), nil
}

// Table is the payload of a result event for a statement that returns rows.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

type Engine struct {
	db *sql.DB
}

func NewEngine() (guest.Engine, error) {
	return &Engine{}, nil
}

func (e *Engine) Boot(ctx context.Context, progress func(string)) error {
	progress("Opening in-memory database...")
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return err
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return err
	}
	e.db = db
	return nil
}

func (e *Engine) Eval(ctx context.Context, code string, emit protocol.Sink) error {
	stmts := split(code)
	if len(stmts) == 0 {
		emit.Emit(protocol.KindInfo, "No statements to execute")
		return nil
	}
	for _, st := range stmts {
		if err := e.run(ctx, st, emit); err != nil {
			return &guest.CodeError{Line: st.line, Message: cleanError(err)}
		}
	}
	return nil
}

func (e *Engine) run(ctx context.Context, st statement, emit protocol.Sink) error {
	if !returnsRows(st.text) {
		res, err := e.db.ExecContext(ctx, st.text)
		if err != nil {
			return err
		}
		if !modifiesRows(st.text) {
			emit.Emit(protocol.KindLog, "Query OK")
			return nil
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = 0
		}
		emit.Emit(protocol.KindLog, affected(n))
		return nil
	}

	rows, err := e.db.QueryContext(ctx, st.text)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	table := Table{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		table.Rows = append(table.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(cols) > 0 {
		emit.Emit(protocol.KindResult, table)
	}
	return nil
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func affected(n int64) string {
	if n == 1 {
		return "Query OK, 1 row affected"
	}
	return fmt.Sprintf("Query OK, %d rows affected", n)
}

var errCode = regexp.MustCompile(`\s*\(\d+\)$`)

// cleanError drops the driver's result-code decoration from a message.
func cleanError(err error) string {
	msg := err.Error()
	msg = strings.TrimPrefix(msg, "SQL logic error: ")
	return errCode.ReplaceAllString(msg, "")
}
