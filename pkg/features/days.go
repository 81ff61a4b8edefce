package features

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/malbeclabs/trxpurpose/pkg/duck"
)

const DaysTable = "days_features"

var weekdays = []string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// DayColumns lists the days_features columns after calendar_date.
var DayColumns = func() []string {
	cols := []string{
		"payday_linear_asc_01",
		"payday_linear_dsc_01",
		"payday_periodic_01",
		"payday_linear_asc_25",
		"payday_linear_dsc_25",
		"payday_periodic_25",
	}
	for i, d := range weekdays {
		cols = append(cols, fmt.Sprintf("is_day_%d_%s", i+1, d))
	}
	return append(cols, "is_twin_date", "is_twin_date_m1")
}()

const paydaySignals = 6

// DayFeatures holds the calendar signals of one date, in DayColumns order.
type DayFeatures struct {
	Date   time.Time
	Values []float64
}

// GenerateDayFeatures computes the features of every date in [start, end].
//
// The *_01 signals rise linearly from 0 on the 1st to 1 on the last day of
// the month. The *_25 signals peak at 1 on the 25th, restart from 0 on the
// 26th and rise linearly through the month end back up to the next 25th.
func GenerateDayFeatures(start, end time.Time) []DayFeatures {
	start = truncateDay(start)
	end = truncateDay(end)

	var out []DayFeatures
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		values := make([]float64, len(DayColumns))

		asc01 := paydayAsc01(d)
		values[0] = asc01
		values[1] = 1 - asc01
		values[2] = periodic(asc01)

		asc25 := paydayAsc25(d)
		values[3] = asc25
		values[4] = 1 - asc25
		values[5] = periodic(asc25)

		values[paydaySignals+int(d.Weekday())] = 1

		if d.Day() == int(d.Month()) {
			values[len(values)-2] = 1
		}
		if d.Day() == int(d.Month())-1 {
			values[len(values)-1] = 1
		}
		out = append(out, DayFeatures{Date: d, Values: values})
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func paydayAsc01(d time.Time) float64 {
	n := daysInMonth(d.Year(), d.Month())
	return float64(d.Day()-1) / float64(n-1)
}

// tailAfter25 is the *_25 signal on day (> 25) of a month with n days.
func tailAfter25(day, n int) float64 {
	return float64(day-26) / float64(n-1)
}

func paydayAsc25(d time.Time) float64 {
	day := d.Day()
	switch {
	case day == 25:
		return 1
	case day > 25:
		return tailAfter25(day, daysInMonth(d.Year(), d.Month()))
	default:
		prev := d.AddDate(0, 0, -day)
		eom := tailAfter25(prev.Day(), prev.Day())
		return (1-eom)*float64(day)/25 + eom
	}
}

func periodic(x float64) float64 {
	return 0.5 + 0.5*math.Cos(2*math.Pi*x)
}

// WriteDaysTable replaces days_features with the given rows.
func WriteDaysTable(ctx context.Context, log *slog.Logger, conn duck.Connection, days []DayFeatures) error {
	columns := make([]duck.Column, 0, len(DayColumns)+1)
	columns = append(columns, duck.Column{Name: "calendar_date", Type: "DATE"})
	for i, c := range DayColumns {
		typ := "TINYINT"
		if i < paydaySignals {
			typ = "FLOAT"
		}
		columns = append(columns, duck.Column{Name: c, Type: typ})
	}

	record := make([]string, len(columns))
	return duck.ReplaceTableViaCSV(ctx, log, conn, duck.TableConfig{TableName: DaysTable, Columns: columns}, len(days),
		func(w *csv.Writer, i int) error {
			record[0] = days[i].Date.Format(time.DateOnly)
			for j, v := range days[i].Values {
				if j < paydaySignals {
					record[j+1] = strconv.FormatFloat(v, 'g', -1, 32)
				} else {
					record[j+1] = strconv.Itoa(int(v))
				}
			}
			return w.Write(record)
		})
}

// DayRange returns the calendar range covering every trx_date of edges.
func DayRange(ctx context.Context, conn duck.Connection) (time.Time, time.Time, error) {
	var start, end sql.NullTime
	err := conn.QueryRowContext(ctx, `SELECT MIN(trx_date), MAX(trx_date) FROM edges`).Scan(&start, &end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to query date range: %w", err)
	}
	if !start.Valid || !end.Valid {
		return time.Time{}, time.Time{}, errors.New("edges has no transaction dates")
	}
	return start.Time, end.Time, nil
}
