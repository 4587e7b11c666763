// Package parser decodes AEMO's self-describing CSV report format: an
// "I" row declares the column layout for the rows that follow, a "D" row
// carries one data record against that layout.
package parser

import (
	"bufio"
	"math"
	"strconv"
	"strings"

	"github.com/nemalert/pricebot/internal/domain"
)

// ParseDispatch extracts dispatch price records from an AEMO DispatchIS
// report. Rows outside the declared price bounds, or rows referencing a
// column the I-row never declared, are silently skipped — AEMO reports
// carry many unrelated tables in the same file.
func ParseDispatch(csv string) []domain.PriceRecord {
	var records []domain.PriceRecord
	cols := map[string]int{}

	forEachRow(csv, func(fields []string) {
		tag, table, sub := rowKey(fields)
		if tag == "I" && table == "DISPATCH" && sub == "PRICE" {
			cols = columnMap(fields)
			return
		}
		if tag != "D" || table != "DISPATCH" || sub != "PRICE" {
			return
		}

		region, ok := field(fields, cols, "REGIONID")
		if !ok {
			return
		}
		priceStr, ok := field(fields, cols, "RRP")
		if !ok {
			return
		}
		intervalTime, ok := field(fields, cols, "SETTLEMENTDATE")
		if !ok {
			return
		}

		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			price = math.NaN()
		}
		if !validPrice(price) {
			return
		}
		records = append(records, domain.PriceRecord{
			Region:       domain.Region(region),
			PriceMWh:     price,
			IntervalTime: intervalTime,
		})
	})
	return records
}

// ParsePreDispatch extracts forecast records from an AEMO PredispatchIS
// report. AEMO has shipped the forecast price table under two different
// subtype names over the years ("PRICE" and "REGION_PRICES"); both are
// accepted. The forecast timestamp column is DATETIME in most report
// variants, falling back to PERIODID in older ones.
func ParsePreDispatch(csv string) []domain.ForecastRecord {
	var records []domain.ForecastRecord
	cols := map[string]int{}

	forEachRow(csv, func(fields []string) {
		tag, table, sub := rowKey(fields)
		isForecastRow := table == "PREDISPATCH" && (sub == "PRICE" || sub == "REGION_PRICES")

		if tag == "I" && isForecastRow {
			cols = columnMap(fields)
			return
		}
		if tag != "D" || !isForecastRow {
			return
		}

		region, ok := field(fields, cols, "REGIONID")
		if !ok {
			return
		}
		priceStr, ok := field(fields, cols, "RRP")
		if !ok {
			return
		}
		forecastTime, ok := field(fields, cols, "DATETIME")
		if !ok {
			forecastTime, ok = field(fields, cols, "PERIODID")
			if !ok {
				return
			}
		}

		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			price = math.NaN()
		}
		if !validPrice(price) {
			return
		}
		records = append(records, domain.ForecastRecord{
			Region:       domain.Region(region),
			PriceMWh:     price,
			ForecastTime: forecastTime,
		})
	})
	return records
}

func validPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p >= domain.MinPriceMWh && p <= domain.MaxPriceMWh
}

// rowKey returns the first three unquoted, trimmed fields of a row: the
// record tag ("I"/"D"/"C"), the table name, and the subtype.
func rowKey(fields []string) (tag, table, sub string) {
	if len(fields) < 3 {
		return "", "", ""
	}
	return clean(fields[0]), clean(fields[1]), clean(fields[2])
}

// columnMap builds a name→index lookup from an I-row's fields.
func columnMap(fields []string) map[string]int {
	m := make(map[string]int, len(fields))
	for i, f := range fields {
		m[clean(f)] = i
	}
	return m
}

// field reads the named column from a D-row using the most recently seen
// column map. Reports false if the column was never declared or the row is
// too short to contain it.
func field(fields []string, cols map[string]int, name string) (string, bool) {
	i, ok := cols[name]
	if !ok || i >= len(fields) {
		return "", false
	}
	return clean(fields[i]), true
}

func clean(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

// forEachRow splits csv into lines and comma-separated fields, invoking fn
// for every line with at least three fields.
func forEachRow(csv string, fn func(fields []string)) {
	scanner := bufio.NewScanner(strings.NewReader(csv))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ",")
		if len(fields) < 3 {
			continue
		}
		fn(fields)
	}
}
