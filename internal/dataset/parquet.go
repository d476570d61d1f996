package dataset

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	duckdb "github.com/duckdb/duckdb-go/v2"

	"etl-catalog/internal/table"
)

// codec reads and writes single tables as Parquet files through an
// in-memory DuckDB database. One codec is opened per Save or Read.
type codec struct {
	db *sql.DB
}

func openCodec() (*codec, error) {
	// One thread and insertion order keep the written files byte-identical
	// for identical input.
	connector, err := duckdb.NewConnector("", func(execer driver.ExecerContext) error {
		for _, q := range []string{
			"SET threads TO 1",
			"SET preserve_insertion_order TO true",
		} {
			if _, err := execer.ExecContext(context.Background(), q, nil); err != nil {
				return fmt.Errorf("%s: %w", q, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &codec{db: sql.OpenDB(connector)}, nil
}

func (c *codec) Close() error { return c.db.Close() }

func duckType(k table.Kind) string {
	switch k {
	case table.KindInt:
		return "BIGINT"
	case table.KindFloat:
		return "DOUBLE"
	case table.KindBool:
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}

func quoteIdent(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

func quoteLiteral(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

// write stores t at path. Column order is preserved; the index and
// metadata live in the sidecar, not in the Parquet file.
func (c *codec) write(ctx context.Context, t *table.Table, path string) error {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("duckdb conn: %w", err)
	}
	defer func() { _ = conn.Close() }()

	const staging = "etl_staging"
	cols := t.Columns()
	defs := make([]string, len(cols))
	for i, col := range cols {
		defs[i] = quoteIdent(col.Name) + " " + duckType(col.Kind)
	}
	if _, err := conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+staging); err != nil {
		return fmt.Errorf("drop staging table: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "CREATE TABLE "+staging+" ("+strings.Join(defs, ", ")+")"); err != nil {
		return fmt.Errorf("create staging table for %q: %w", t.ShortName(), err)
	}
	defer func() { _, _ = conn.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+staging) }()

	err = conn.Raw(func(raw any) error {
		driverConn, ok := raw.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected raw conn type %T", raw)
		}
		appender, err := duckdb.NewAppenderFromConn(driverConn, "", staging)
		if err != nil {
			return fmt.Errorf("create appender: %w", err)
		}
		row := make([]driver.Value, len(cols))
		for i := 0; i < t.NumRows(); i++ {
			for j, col := range cols {
				row[j] = col.Values[i]
			}
			if err := appender.AppendRow(row...); err != nil {
				_ = appender.Close()
				return fmt.Errorf("append row %d of %q: %w", i, t.ShortName(), err)
			}
		}
		return appender.Close()
	})
	if err != nil {
		return err
	}

	copySQL := "COPY " + staging + " TO " + quoteLiteral(path) + " (FORMAT PARQUET, COMPRESSION ZSTD)"
	if _, err := conn.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("write parquet %s: %w", path, err)
	}
	return nil
}

// read loads the given columns of the Parquet file at path.
func (c *codec) read(ctx context.Context, path string, schema []columnEntry) ([]*table.Column, error) {
	names := make([]string, len(schema))
	for i, s := range schema {
		names[i] = quoteIdent(s.Name)
	}
	query := "SELECT " + strings.Join(names, ", ") + " FROM read_parquet(" + quoteLiteral(path) + ")"
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	defer func() { _ = rows.Close() }()

	values := make([][]any, len(schema))
	dest := make([]any, len(schema))
	for rows.Next() {
		row := make([]any, len(schema))
		for i := range row {
			dest[i] = &row[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", path, err)
		}
		for i, v := range row {
			values[i] = append(values[i], v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", path, err)
	}

	cols := make([]*table.Column, len(schema))
	var errs []error
	for i, s := range schema {
		if values[i] == nil {
			values[i] = []any{}
		}
		col, err := table.NewColumn(s.Name, s.Kind, values[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		col.Meta = s.Meta
		col.Lineage = s.Lineage
		cols[i] = col
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cols, nil
}
