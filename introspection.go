// Copyright 2024 The sessionlite Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlite

import "context"

// Column describes one table column as reported by the engine.
type Column struct {
	ID         int64
	Name       string
	Type       string
	NotNull    bool
	Default    any
	PrimaryKey bool
}

// Tables lists user table names, sqlite internals excluded.
func (s *Session) Tables(ctx context.Context) ([]string, error) {
	return s.fetchNames(ctx, "tables",
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
}

// Views lists view names.
func (s *Session) Views(ctx context.Context) ([]string, error) {
	return s.fetchNames(ctx, "views",
		"SELECT name FROM sqlite_master WHERE type='view' ORDER BY name")
}

// Indexes lists explicit index names, auto-generated ones excluded.
func (s *Session) Indexes(ctx context.Context) ([]string, error) {
	return s.fetchNames(ctx, "indexes",
		"SELECT name FROM sqlite_master WHERE type='index' AND name NOT LIKE 'sqlite_%' ORDER BY name")
}

func (s *Session) fetchNames(ctx context.Context, name, sql string) ([]string, error) {
	rows, err := s.FetchAll(ctx, name, sql)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if v, ok := row[0].(string); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// Columns describes the columns of table. An unknown table yields an
// empty slice, matching the engine's PRAGMA behavior.
func (s *Session) Columns(ctx context.Context, table string) ([]Column, error) {
	var out []Column
	err := s.withConn(ctx, "columns", func(c *sqliteConn) error {
		rows := c.queryLocked(ctx, s.stats, query, "columns", "SELECT cid, name, type, `notnull`, dflt_value, pk FROM pragma_table_info($t)", TextString("$t", table))
		defer rows.close()
		for rows.Next() {
			name, err := rows.ColumnBlobString(1)
			if err != nil {
				return err
			}
			typ, err := rows.ColumnBlobString(2)
			if err != nil {
				return err
			}
			col := Column{
				ID:         rows.ColumnInt64(0),
				Name:       name,
				Type:       typ,
				NotNull:    rows.ColumnInt64(3) != 0,
				PrimaryKey: rows.ColumnInt64(5) != 0,
			}
			if !rows.ColumnIsNull(4) {
				dflt, err := rows.ColumnBlobString(4)
				if err != nil {
					return err
				}
				col.Default = dflt
			}
			out = append(out, col)
		}
		return rows.Error()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
