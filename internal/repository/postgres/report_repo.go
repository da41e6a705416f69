package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xela07ax/reqtrail/internal/delivery"
)

// ReportRepo пишет доставленные отчеты в таблицу reports.
//
//	CREATE TABLE reports (
//	    id            UUID PRIMARY KEY,
//	    ip            TEXT,
//	    referer       TEXT,
//	    session_start TIMESTAMPTZ,
//	    history_size  INT,
//	    failure_count INT,
//	    last_failure  TEXT,
//	    text_report   TEXT,
//	    session       JSONB,
//	    created_at    TIMESTAMPTZ
//	);
type ReportRepo struct {
	db *sql.DB
}

// Количество колонок в таблице reports
const reportColumns = 10

// MaxBatchSize — сколько отчетов влезает в один INSERT: у Postgres
// не больше 65535 параметров на запрос.
const MaxBatchSize = 65535 / reportColumns

func NewReportRepo(db *sql.DB) *ReportRepo {
	return &ReportRepo{db: db}
}

// WriteBatch пишет отчеты; пачка больше MaxBatchSize режется на несколько INSERT.
func (r *ReportRepo) WriteBatch(ctx context.Context, reports []delivery.Report) error {
	for len(reports) > 0 {
		n := min(len(reports), MaxBatchSize)
		query, vals := buildInsert(reports[:n])
		if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
			return fmt.Errorf("insert %d reports: %w", n, err)
		}
		reports = reports[n:]
	}
	return nil
}

// buildInsert динамически строит запрос для пакетной вставки.
func buildInsert(reports []delivery.Report) (string, []interface{}) {
	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(reports)*reportColumns)

	for i, rep := range reports {
		p := i * reportColumns
		if i > 0 {
			placeholders.WriteString(",")
		}
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10)

		vals = append(vals,
			rep.ID, rep.IP, rep.Referer, rep.SessionStart, rep.HistorySize,
			rep.FailureCount, rep.LastFailure, rep.Text, []byte(rep.Session), rep.CreatedAt,
		)
	}

	query := "INSERT INTO reports (id, ip, referer, session_start, history_size, failure_count, last_failure, text_report, session, created_at) VALUES " +
		placeholders.String() + " ON CONFLICT (id) DO NOTHING"
	return query, vals
}
