package duck

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Column is a named, typed column of a catalog table.
type Column struct {
	Name string
	Type string
}

// TableConfig holds configuration for replacing a table from generated rows.
type TableConfig struct {
	// TableName is the name of the table to replace.
	TableName string
	// Columns defines all columns of the table in order.
	Columns []Column
}

func (c TableConfig) Validate() error {
	if c.TableName == "" {
		return errors.New("table name is required")
	}
	if len(c.Columns) == 0 {
		return errors.New("columns cannot be empty")
	}
	for _, col := range c.Columns {
		if col.Name == "" || col.Type == "" {
			return fmt.Errorf("invalid column definition %q:%q", col.Name, col.Type)
		}
	}
	return nil
}

// ReplaceTableViaCSV regenerates a whole table from count rows:
// - Writes the rows to a temporary CSV file
// - Loads the CSV into a VARCHAR staging table
// - Replaces the target table with the typed contents of the stage
//
// Empty fields are NULL in typed columns and empty strings in VARCHAR ones.
//
// The table is replaced even when count is zero, leaving it empty.
func ReplaceTableViaCSV(
	ctx context.Context,
	log *slog.Logger,
	conn Connection,
	cfg TableConfig,
	count int,
	writeCSVFn func(*csv.Writer, int) error,
) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		log.Debug("table replaced",
			"table", cfg.TableName,
			"rows", count,
			"duration", time.Since(start).String())
	}()

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("%s_*.csv", cfg.TableName))
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	csvWriter := csv.NewWriter(tmpFile)
	for i := range count {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during CSV writing: %w", ctx.Err())
		default:
		}

		if err := writeCSVFn(csvWriter, i); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i, err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}

	return retryWithBackoff(ctx, log, fmt.Sprintf("replace table %s", cfg.TableName), func() error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for %s: %w", cfg.TableName, err)
		}
		defer func() {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Error("failed to rollback transaction", "table", cfg.TableName, "error", err)
			}
		}()

		stageTableName := fmt.Sprintf("%s_stage", cfg.TableName)
		if err := createStageTable(ctx, tx, cfg, stageTableName); err != nil {
			return err
		}

		if count > 0 {
			// Empty fields stay empty strings in the stage; only typed columns
			// turn them into NULL below.
			copySQL := fmt.Sprintf("COPY %s FROM '%s' (FORMAT CSV, HEADER false, NULLSTR '%s')", stageTableName, tmpFile.Name(), csvNullString)
			if _, err := tx.ExecContext(ctx, copySQL); err != nil {
				return fmt.Errorf("failed to COPY FROM CSV: %w", err)
			}
		}

		selectCols := make([]string, 0, len(cfg.Columns))
		for _, col := range cfg.Columns {
			if isTextType(col.Type) {
				selectCols = append(selectCols, fmt.Sprintf("CAST(%s AS %s) AS %s", col.Name, col.Type, col.Name))
				continue
			}
			selectCols = append(selectCols, fmt.Sprintf("CAST(NULLIF(%s, '') AS %s) AS %s", col.Name, col.Type, col.Name))
		}
		replaceSQL := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT %s FROM %s",
			cfg.TableName, strings.Join(selectCols, ", "), stageTableName)
		if _, err := tx.ExecContext(ctx, replaceSQL); err != nil {
			return fmt.Errorf("failed to replace table %s: %w", cfg.TableName, err)
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", stageTableName)); err != nil {
			log.Error("failed to drop stage table", "error", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

// csvNullString marks NULL in staged CSV files. Writers never emit it, so
// text columns keep empty strings and typed columns read empty as NULL.
const csvNullString = `\N`

func isTextType(typ string) bool {
	switch strings.ToUpper(strings.TrimSpace(typ)) {
	case "VARCHAR", "TEXT", "STRING":
		return true
	}
	return false
}

// createStageTable creates a temporary all-VARCHAR staging table; DuckDB
// handles type conversion when the target is built from it.
func createStageTable(ctx context.Context, tx *sql.Tx, cfg TableConfig, stageTableName string) error {
	colDefs := make([]string, 0, len(cfg.Columns))
	for _, col := range cfg.Columns {
		colDefs = append(colDefs, fmt.Sprintf("%s VARCHAR", col.Name))
	}

	createSQL := fmt.Sprintf("CREATE OR REPLACE TEMP TABLE %s (%s)", stageTableName, strings.Join(colDefs, ", "))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create stage table: %w", err)
	}
	return nil
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// ExecScript runs each statement of a multi-statement SQL script in order.
// A statement referencing placeholders $1..$n is bound to args[:n].
func ExecScript(ctx context.Context, log *slog.Logger, conn Connection, name, script string, args ...any) error {
	for i, stmt := range SplitStatements(script) {
		n := maxPlaceholder(stmt)
		if n > len(args) {
			return fmt.Errorf("statement %d of %s references $%d but only %d args were given", i+1, name, n, len(args))
		}
		if _, err := conn.ExecContext(ctx, stmt, args[:n]...); err != nil {
			return fmt.Errorf("failed to execute statement %d of %s: %w", i+1, name, err)
		}
	}
	log.Debug("executed script", "name", name)
	return nil
}

func maxPlaceholder(stmt string) int {
	highest := 0
	for _, m := range placeholderRe.FindAllStringSubmatch(stmt, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

// SplitStatements splits a SQL script on semicolons that end a line, dropping
// empty statements and comment-only lines.
func SplitStatements(script string) []string {
	var (
		stmts []string
		cur   strings.Builder
	)
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			if s := strings.TrimSuffix(strings.TrimSpace(cur.String()), ";"); s != "" {
				stmts = append(stmts, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}

// SourceExpr returns the table function reading the file at path: parquet
// for .parquet paths, CSV with type detection otherwise. The path may be an
// s3:// URI or a glob.
func SourceExpr(path string) string {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".parquet") {
		return fmt.Sprintf("read_parquet('%s')", escapeLiteral(path))
	}
	return fmt.Sprintf("read_csv_auto('%s', header = true)", escapeLiteral(path))
}
