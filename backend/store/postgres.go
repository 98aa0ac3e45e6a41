package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"polygate/resource"
)

// Postgres stores each resource in its own table named after the resource collection,
// one column per field.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to url and verifies the connection.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool}, nil
}

// Migrate creates the tables for the given resources if they do not exist.
func (p *Postgres) Migrate(ctx context.Context, descs ...resource.Descriptor) error {
	for _, d := range descs {
		cols := []string{"id TEXT PRIMARY KEY"}
		for _, f := range d.Fields {
			sqlType := "TEXT"
			if f.Type == resource.Int {
				sqlType = "BIGINT"
			}
			cols = append(cols, fmt.Sprintf("%s %s NOT NULL", f.Name, sqlType))
		}
		cols = append(cols, "created_at TIMESTAMPTZ NOT NULL DEFAULT now()")

		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.Collection, strings.Join(cols, ", "))
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", d.Collection, err)
		}
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, d resource.Descriptor) ([]resource.Record, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY created_at, id", strings.Join(d.FieldNames(), ", "), d.Collection))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []resource.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows, d)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (p *Postgres) Get(ctx context.Context, d resource.Descriptor, id string) (resource.Record, error) {
	row := p.pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE id = $1", strings.Join(d.FieldNames(), ", "), d.Collection), id)

	rec, err := scanRecord(row, d)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(d, id)
		}
		return nil, err
	}
	return rec, nil
}

func (p *Postgres) Create(ctx context.Context, d resource.Descriptor, rec resource.Record) (resource.Record, error) {
	stored := clone(rec)
	stored.SetIdentity(uuid.NewString())

	names := d.FieldNames()
	placeholders := make([]string, len(names))
	for i := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	_, err := p.pool.Exec(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.Collection, strings.Join(names, ", "), strings.Join(placeholders, ", ")), values(d, stored)...)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (p *Postgres) Update(ctx context.Context, d resource.Descriptor, rec resource.Record) (resource.Record, error) {
	sets := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		sets[i] = fmt.Sprintf("%s = $%d", f.Name, i+2)
	}

	tag, err := p.pool.Exec(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE id = $1",
		d.Collection, strings.Join(sets, ", ")), values(d, rec)...)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, notFound(d, rec.Identity())
	}
	return clone(rec), nil
}

func (p *Postgres) Delete(ctx context.Context, d resource.Descriptor, id string) error {
	tag, err := p.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", d.Collection), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(d, id)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// values returns rec's id followed by its fields, matching d.FieldNames.
func values(d resource.Descriptor, rec resource.Record) []any {
	vals := make([]any, 0, len(d.Fields)+1)
	for _, name := range d.FieldNames() {
		v, _ := rec.Get(name)
		vals = append(vals, v)
	}
	return vals
}

func scanRecord(row pgx.Row, d resource.Descriptor) (resource.Record, error) {
	var id string
	dest := []any{&id}
	for _, f := range d.Fields {
		if f.Type == resource.Int {
			dest = append(dest, new(int64))
		} else {
			dest = append(dest, new(string))
		}
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	rec := d.New()
	rec.SetIdentity(id)
	for i, f := range d.Fields {
		var v any
		switch p := dest[i+1].(type) {
		case *int64:
			v = *p
		case *string:
			v = *p
		}
		if err := rec.Set(f.Name, v); err != nil {
			return nil, err
		}
	}
	return rec, nil
}
