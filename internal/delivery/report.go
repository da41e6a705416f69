package delivery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xela07ax/reqtrail/internal/analytics"
)

// Report — то, что уходит в коллектор: сводка по сессии, текстовый отчет
// и сама сессия в JSON.
type Report struct {
	ID           string          `json:"id"`
	IP           string          `json:"ip"`
	Referer      string          `json:"referer,omitempty"`
	SessionStart time.Time       `json:"session_start"`
	HistorySize  int             `json:"history_size"`
	FailureCount int             `json:"failure_count"`
	LastFailure  string          `json:"last_failure,omitempty"`
	Text         string          `json:"text"`
	Session      json.RawMessage `json:"session"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewReport снимает отчет с сессии в момент now.
func NewReport(s *analytics.Session, now time.Time) (Report, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return Report{}, fmt.Errorf("encode session: %w", err)
	}

	rep := Report{
		ID:           uuid.New().String(),
		IP:           s.IP(),
		Referer:      s.Referer(),
		SessionStart: s.CreationTime(),
		HistorySize:  s.Len(),
		Text:         analytics.RenderText(s, now),
		Session:      raw,
		CreatedAt:    now,
	}
	for _, r := range s.History() {
		if r.Failure() != nil {
			rep.FailureCount++
		}
	}
	if failing := s.LastFailingRecord(); failing != nil {
		rep.LastFailure = failing.Failure().Message
	}
	return rep, nil
}

// Validate проверяет отчет, пришедший по сети.
func (r Report) Validate() error {
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("report id: %w", err)
	}
	if r.Text == "" {
		return fmt.Errorf("report %s: empty text", r.ID)
	}
	return nil
}
