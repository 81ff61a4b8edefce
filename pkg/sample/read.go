package sample

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/malbeclabs/trxpurpose/pkg/duck"
)

var StatisticsTables = []string{"statistics", "statistics_nodes", "statistics_labels", "statistics_features"}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ReadTable returns the header and the rows of table formatted as strings.
func ReadTable(ctx context.Context, conn duck.Connection, table string) ([]string, [][]string, error) {
	if !tableNameRe.MatchString(table) {
		return nil, nil, fmt.Errorf("invalid table name %q", table)
	}
	rows, err := conn.QueryContext(ctx, "SELECT * FROM "+table)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	header, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]string
	for rows.Next() {
		values := make([]any, len(header))
		dest := make([]any, len(header))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		record := make([]string, len(values))
		for i, v := range values {
			record[i] = formatValue(v)
		}
		out = append(out, record)
	}
	return header, out, rows.Err()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return strconv.FormatFloat(x, 'f', 4, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', 4, 32)
	case time.Time:
		return x.Format(time.DateOnly)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
