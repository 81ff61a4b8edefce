package duck

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/duckdb/duckdb-go/v2"
)

const AmountEncodingFunc = "amount_encoding"

// AmountEncoding clips amount into [lo, hi] and scales it linearly to [0, 1].
// Amounts below lo map to 0 and amounts above hi map to 1.
func AmountEncoding(amount, lo, hi int64) float64 {
	if amount < lo {
		return 0
	}
	if amount > hi {
		return 1
	}
	if hi == lo {
		return 0
	}
	return float64(amount-lo) / float64(hi-lo)
}

type amountEncodingUDF struct {
	bigint duckdb.TypeInfo
	double duckdb.TypeInfo
}

func (f *amountEncodingUDF) Config() duckdb.ScalarFuncConfig {
	return duckdb.ScalarFuncConfig{
		InputTypeInfos: []duckdb.TypeInfo{f.bigint, f.bigint, f.bigint},
		ResultTypeInfo: f.double,
	}
}

func (f *amountEncodingUDF) Executor() duckdb.ScalarFuncExecutor {
	return duckdb.ScalarFuncExecutor{
		RowExecutor: func(values []driver.Value) (any, error) {
			args := make([]int64, len(values))
			for i, v := range values {
				n, ok := v.(int64)
				if !ok {
					return nil, fmt.Errorf("%s: argument %d has type %T, want BIGINT", AmountEncodingFunc, i, v)
				}
				args[i] = n
			}
			return AmountEncoding(args[0], args[1], args[2]), nil
		},
	}
}

// registerAmountEncoding registers the function on the database behind conn
// unless it is already in the catalog. Scalar UDFs are database-wide and a
// second registration fails.
func registerAmountEncoding(ctx context.Context, conn *sql.Conn) error {
	var n int
	err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM duckdb_functions() WHERE function_name = $1`, AmountEncodingFunc).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", AmountEncodingFunc, err)
	}
	if n > 0 {
		return nil
	}

	bigint, err := duckdb.NewTypeInfo(duckdb.TYPE_BIGINT)
	if err != nil {
		return fmt.Errorf("failed to create BIGINT type info: %w", err)
	}
	double, err := duckdb.NewTypeInfo(duckdb.TYPE_DOUBLE)
	if err != nil {
		return fmt.Errorf("failed to create DOUBLE type info: %w", err)
	}
	if err := duckdb.RegisterScalarUDF(conn, AmountEncodingFunc, &amountEncodingUDF{bigint: bigint, double: double}); err != nil {
		return fmt.Errorf("failed to register %s: %w", AmountEncodingFunc, err)
	}
	return nil
}
