package postgres

import (
	"fmt"
	"strings"
	"testing"

	"github.com/xela07ax/reqtrail/internal/delivery"
)

func TestBuildInsertPlaceholders(t *testing.T) {
	reports := []delivery.Report{{ID: "a"}, {ID: "b"}}
	query, vals := buildInsert(reports)

	if len(vals) != 2*reportColumns {
		t.Fatalf("vals = %d, want %d", len(vals), 2*reportColumns)
	}
	if !strings.Contains(query, "($11, $12, $13, $14, $15, $16, $17, $18, $19, $20)") {
		t.Errorf("second row placeholders missing:\n%s", query)
	}
	if vals[reportColumns] != "b" {
		t.Errorf("second row starts with %v, want b", vals[reportColumns])
	}
}

func TestMaxBatchFitsParameterLimit(t *testing.T) {
	reports := make([]delivery.Report, MaxBatchSize)
	query, vals := buildInsert(reports)

	if len(vals) > 65535 {
		t.Fatalf("%d bind parameters exceed the postgres limit", len(vals))
	}
	last := fmt.Sprintf("$%d)", MaxBatchSize*reportColumns)
	if !strings.Contains(query, last) {
		t.Errorf("query does not end at %s", last)
	}
}
