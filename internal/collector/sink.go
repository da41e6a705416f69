package collector

import (
	"errors"

	"github.com/xela07ax/reqtrail/internal/delivery"
)

// Sink принимает проверенные отчеты. В проде это delivery.Batcher.
type Sink interface {
	Enqueue(rep delivery.Report) error
}

// accept — общий путь для всех транспортов: валидация и постановка в очередь.
func accept(sink Sink, rep delivery.Report) error {
	if err := rep.Validate(); err != nil {
		return &InvalidReportError{Err: err}
	}
	return sink.Enqueue(rep)
}

// InvalidReportError — отчет не прошел валидацию.
type InvalidReportError struct {
	Err error
}

func (e *InvalidReportError) Error() string { return "invalid report: " + e.Err.Error() }
func (e *InvalidReportError) Unwrap() error { return e.Err }

func isInvalid(err error) bool {
	var ie *InvalidReportError
	return errors.As(err, &ie)
}
