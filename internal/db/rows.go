package db

import (
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CollectMaps drains rows into column-name keyed maps and returns the
// column names in select order. Rows are closed on return.
func CollectMaps(rows pgx.Rows) ([]string, []map[string]any, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, nil, eris.Wrap(err, "db: collect rows")
	}
	return columns, out, nil
}
