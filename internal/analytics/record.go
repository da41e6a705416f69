package analytics

import (
	"encoding/json"
	"errors"
	"net/url"
	"regexp"
	"time"
)

// ErrRecordClosed возвращается при повторном закрытии Record.
var ErrRecordClosed = errors.New("analytics: record already closed")

// queryKeyPattern выделяет имена параметров из сырой query string.
var queryKeyPattern = regexp.MustCompile(`(\w+)=`)

// Record — один HTTP-вызов в истории сессии.
// Создается в состоянии Open и закрывается ровно один раз через Close.
// Record принадлежит одному запросу, конкурентные изменения не поддерживаются.
type Record struct {
	requestTime    time.Time
	completionTime time.Time
	method         string
	url            string
	queryString    string
	status         int
	parameters     url.Values
	failure        *Failure
	sourceRevision string
	closed         bool
}

// NewRecord открывает запись. Параметры копируются; ключи, которые
// встречаются в queryString как "name=", выбрасываются — query string
// и так показывается вместе с URL.
func NewRecord(requestTime time.Time, method, rawURL, queryString string, params url.Values, sourceRevision string) *Record {
	copied := make(url.Values, len(params))
	for k, v := range params {
		copied[k] = append([]string(nil), v...)
	}
	if queryString != "" {
		for _, m := range queryKeyPattern.FindAllStringSubmatch(queryString, -1) {
			delete(copied, m[1])
		}
	}

	return &Record{
		requestTime:    requestTime,
		method:         method,
		url:            rawURL,
		queryString:    queryString,
		parameters:     copied,
		sourceRevision: sourceRevision,
	}
}

// Close фиксирует результат вызова. Повторный вызов ничего не меняет
// и возвращает ErrRecordClosed.
func (r *Record) Close(status int, completionTime time.Time, failure *Failure) error {
	if r.closed {
		return ErrRecordClosed
	}
	r.status = status
	r.completionTime = completionTime
	r.failure = failure
	r.closed = true
	return nil
}

func (r *Record) Closed() bool              { return r.closed }
func (r *Record) RequestTime() time.Time    { return r.requestTime }
func (r *Record) CompletionTime() time.Time { return r.completionTime }
func (r *Record) Method() string            { return r.method }
func (r *Record) URL() string               { return r.url }
func (r *Record) QueryString() string       { return r.queryString }
func (r *Record) Status() int               { return r.status }
func (r *Record) Parameters() url.Values    { return r.parameters }
func (r *Record) Failure() *Failure         { return r.failure }
func (r *Record) SourceRevision() string    { return r.sourceRevision }

// URLWithQuery возвращает URL вместе с query string, если она была.
func (r *Record) URLWithQuery() string {
	if r.queryString == "" {
		return r.url
	}
	return r.url + "?" + r.queryString
}

// Duration — время обработки. Для незакрытой записи 0.
func (r *Record) Duration() time.Duration {
	if !r.closed {
		return 0
	}
	return r.completionTime.Sub(r.requestTime)
}

type recordWire struct {
	RequestTime    time.Time  `json:"request_time"`
	CompletionTime time.Time  `json:"completion_time"`
	Method         string     `json:"method"`
	URL            string     `json:"url"`
	QueryString    string     `json:"query_string,omitempty"`
	Status         int        `json:"status"`
	Parameters     url.Values `json:"parameters"`
	Failure        *Failure   `json:"failure,omitempty"`
	SourceRevision string     `json:"source_revision,omitempty"`
	Closed         bool       `json:"closed"`
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordWire{
		RequestTime:    r.requestTime,
		CompletionTime: r.completionTime,
		Method:         r.method,
		URL:            r.url,
		QueryString:    r.queryString,
		Status:         r.status,
		Parameters:     r.parameters,
		Failure:        r.failure,
		SourceRevision: r.sourceRevision,
		Closed:         r.closed,
	})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var w recordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Parameters == nil {
		w.Parameters = url.Values{}
	}
	*r = Record{
		requestTime:    w.RequestTime,
		completionTime: w.CompletionTime,
		method:         w.Method,
		url:            w.URL,
		queryString:    w.QueryString,
		status:         w.Status,
		parameters:     w.Parameters,
		failure:        w.Failure,
		sourceRevision: w.SourceRevision,
		closed:         w.Closed,
	}
	return nil
}
