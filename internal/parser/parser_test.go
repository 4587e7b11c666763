package parser_test

import (
	"strings"
	"testing"

	"github.com/nemalert/pricebot/internal/domain"
	"github.com/nemalert/pricebot/internal/parser"
)

const dispatchSample = `C,NEMP.WORLD,DISPATCH,AEMO,...
I,DISPATCH,PRICE,1,SETTLEMENTDATE,RUNNO,REGIONID,RRP
D,DISPATCH,PRICE,1,"2026/07/30 12:30:00",1,"NSW1",85.32
D,DISPATCH,PRICE,1,"2026/07/30 12:30:00",1,"VIC1",-12.50
D,DISPATCH,PRICE,1,"2026/07/30 12:30:00",1,"QLD1",999999.0
C,END OF REPORT`

func TestParseDispatch_ExtractsValidRows(t *testing.T) {
	records := parser.ParseDispatch(dispatchSample)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (out-of-range QLD1 row should be dropped): %+v", len(records), records)
	}
	if records[0].Region != domain.RegionNSW || records[0].PriceMWh != 85.32 {
		t.Errorf("records[0] = %+v, want NSW1 @ 85.32", records[0])
	}
	if records[1].Region != domain.RegionVIC || records[1].PriceMWh != -12.50 {
		t.Errorf("records[1] = %+v, want VIC1 @ -12.50", records[1])
	}
}

func TestParseDispatch_IgnoresRowsBeforeColumnMap(t *testing.T) {
	csv := `D,DISPATCH,PRICE,1,"2026/07/30 12:30:00",1,"NSW1",85.32
I,DISPATCH,PRICE,1,SETTLEMENTDATE,RUNNO,REGIONID,RRP
D,DISPATCH,PRICE,1,"2026/07/30 12:35:00",1,"NSW1",90.10`
	records := parser.ParseDispatch(csv)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (row before the I-row has no column map yet)", len(records))
	}
}

func TestParseDispatch_UnparsablePriceDropped(t *testing.T) {
	csv := `I,DISPATCH,PRICE,1,SETTLEMENTDATE,RUNNO,REGIONID,RRP
D,DISPATCH,PRICE,1,"2026/07/30 12:30:00",1,"NSW1",NOT_A_NUMBER`
	records := parser.ParseDispatch(csv)
	if len(records) != 0 {
		t.Fatalf("got %d records, want 0", len(records))
	}
}

const predispatchSample = `I,PREDISPATCH,REGION_PRICES,1,DATETIME,REGIONID,RRP
D,PREDISPATCH,REGION_PRICES,1,"2026/07/30 13:00:00","NSW1",120.00
D,PREDISPATCH,REGION_PRICES,1,"2026/07/30 13:30:00","NSW1",-5.00`

func TestParsePreDispatch_RegionPricesSubtype(t *testing.T) {
	records := parser.ParsePreDispatch(predispatchSample)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ForecastTime != "2026/07/30 13:00:00" {
		t.Errorf("ForecastTime = %q", records[0].ForecastTime)
	}
}

func TestParsePreDispatch_FallsBackToPeriodID(t *testing.T) {
	csv := `I,PREDISPATCH,PRICE,1,PERIODID,REGIONID,RRP
D,PREDISPATCH,PRICE,1,"2026/07/30 14:00:00","VIC1",200.00`
	records := parser.ParsePreDispatch(csv)
	if len(records) != 1 || records[0].ForecastTime != "2026/07/30 14:00:00" {
		t.Fatalf("got %+v", records)
	}
}

func TestParseDispatch_EmptyInput(t *testing.T) {
	if records := parser.ParseDispatch(""); len(records) != 0 {
		t.Fatalf("got %d records from empty input", len(records))
	}
}

func TestParseDispatch_LargeReportDoesNotTruncate(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("I,DISPATCH,PRICE,1,SETTLEMENTDATE,RUNNO,REGIONID,RRP\n")
	for i := 0; i < 2000; i++ {
		sb.WriteString(`D,DISPATCH,PRICE,1,"2026/07/30 12:30:00",1,"NSW1",85.32` + "\n")
	}
	records := parser.ParseDispatch(sb.String())
	if len(records) != 2000 {
		t.Fatalf("got %d records, want 2000", len(records))
	}
}
