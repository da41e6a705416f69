package analytics

import (
	"fmt"
	"html"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimeLayout — формат времени в отчетах (MM-dd-yyyy h:mm:ss a).
const TimeLayout = "01-02-2006 3:04:05 PM"

const reportTitle = "Analytics Report"

// RenderText строит текстовый отчет по сессии. now нужен только для
// "Total Online Time"; при одинаковых входных данных вывод одинаковый.
func RenderText(s *Session, now time.Time) string {
	var b strings.Builder
	b.WriteString(reportTitle + "\n")
	b.WriteString("\nSession Start Time: " + s.CreationTime().Format(TimeLayout))
	b.WriteString("\nTotal Online Time: " + onlineMinutes(s, now) + " minutes")
	b.WriteString("\nIP Address: " + s.IP())
	b.WriteString("\nReferer: " + s.Referer())
	b.WriteString("\nHistory")

	for _, r := range s.history {
		b.WriteString("\n")
		b.WriteString(RecordText(r))
		if f := r.Failure(); f != nil {
			b.WriteString("\n" + f.Message)
		}
	}

	if failing := s.LastFailingRecord(); failing != nil {
		b.WriteString("\nLast Exception\n\n")
		b.WriteString(failing.Failure().Trace)
	}
	if last := s.LastRecord(); last != nil && last.SourceRevision() != "" {
		b.WriteString("\n\nSource Revision\n")
		b.WriteString(last.SourceRevision())
	}
	if s.UserDetails() != nil {
		b.WriteString("\n\nUser Information\n")
		b.WriteString(s.UserDetailsText())
	}
	return b.String()
}

// RenderHTML строит полный HTML-документ с отчетом.
func RenderHTML(s *Session, now time.Time) string {
	return "<html><body>" + HTMLBody(s, now) + "</body></html>"
}

// HTMLBody — содержимое отчета без обертки html/body, для встраивания
// в страницу отчета.
func HTMLBody(s *Session, now time.Time) string {
	var b strings.Builder
	b.WriteString("<h1>" + reportTitle + "</h1>")
	b.WriteString("<div>Session Start Time: " + s.CreationTime().Format(TimeLayout) + "</div>")
	b.WriteString("<div>Total Online Time: " + onlineMinutes(s, now) + " minutes</div>")
	b.WriteString("<div>IP Address: " + html.EscapeString(s.IP()) + "</div>")
	b.WriteString("<div>Referer: " + html.EscapeString(s.Referer()) + "</div>")
	b.WriteString("<h3>History</h3><ul>")

	for _, r := range s.history {
		b.WriteString("<li>")
		b.WriteString(RecordHTML(r))
		if f := r.Failure(); f != nil {
			b.WriteString(" <strong>" + html.EscapeString(f.Message) + "</strong>")
		}
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")

	if failing := s.LastFailingRecord(); failing != nil {
		b.WriteString("<h3>Last Exception</h3><pre>")
		b.WriteString(html.EscapeString(failing.Failure().Trace))
		b.WriteString("</pre>")
	}
	if last := s.LastRecord(); last != nil && last.SourceRevision() != "" {
		b.WriteString("<h3>Source Revision</h3><pre>")
		b.WriteString(html.EscapeString(last.SourceRevision()))
		b.WriteString("</pre>")
	}
	if s.UserDetails() != nil {
		b.WriteString("<h3>User Information</h3><pre>")
		b.WriteString(html.EscapeString(s.UserDetailsText()))
		b.WriteString("</pre>")
	}
	return b.String()
}

// RecordText: "01-02-2006 3:04:05 PM (GET) - http://host/path?q {k:v1,v2} (200 - 12 ms)".
func RecordText(r *Record) string {
	return recordPrefix(r) + r.URLWithQuery() + recordSuffix(r)
}

// RecordHTML — то же, что RecordText, но URL оформлен ссылкой.
func RecordHTML(r *Record) string {
	u := html.EscapeString(r.URLWithQuery())
	return html.EscapeString(recordPrefix(r)) +
		`<a href="` + u + `">` + u + `</a>` +
		html.EscapeString(recordSuffix(r))
}

func recordPrefix(r *Record) string {
	return r.RequestTime().Format(TimeLayout) + " (" + r.Method() + ") - "
}

func recordSuffix(r *Record) string {
	return " " + formatParameters(r.Parameters()) +
		fmt.Sprintf(" (%d - %d ms)", r.Status(), r.Duration().Milliseconds())
}

// formatParameters печатает {name:v1,v2} для каждого параметра,
// ключи отсортированы, чтобы отчет был стабильным.
func formatParameters(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString("{" + k + ":" + strings.Join(params[k], ",") + "}")
	}
	return b.String()
}

// onlineMinutes — минуты с момента создания сессии, до двух знаков,
// без хвостовых нулей (#.##).
func onlineMinutes(s *Session, now time.Time) string {
	minutes := now.Sub(s.CreationTime()).Minutes()
	if minutes < 0 {
		minutes = 0
	}
	return strconv.FormatFloat(math.Round(minutes*100)/100, 'f', -1, 64)
}

// formatDetails — текст раздела User Information. После хранилища
// структура приходит как map[string]any: ключи сортируются и печатаются
// в виде "key: value", списки через запятую.
func formatDetails(v any) string {
	switch d := v.(type) {
	case fmt.Stringer:
		return d.String()
	case map[string]any:
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, k+": "+formatDetailValue(d[k]))
		}
		return strings.Join(lines, "\n")
	}
	return fmt.Sprintf("%+v", v)
}

func formatDetailValue(v any) string {
	items, ok := v.([]any)
	if !ok {
		return fmt.Sprint(v)
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprint(it)
	}
	return strings.Join(parts, ", ")
}
