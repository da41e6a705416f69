package engine

import (
	"net/http"
	"strings"

	"github.com/xela07ax/reqtrail/internal/analytics"
)

const reportLinks = `<div><a href="?">Refresh</a> &nbsp; <a href="?clear=true">Clear</a> &nbsp; ` +
	`<a href="?send=true">Send</a> &nbsp; <a href="?send=true&amp;clear=true">Send and Clear</a></div>`

// serveReport обслуживает GET <reportPath>[?send=true][&clear=true].
// Запрос к странице отчета не идет дальше в приложение и не пишется в историю.
func (i *Interceptor) serveReport(w http.ResponseWriter, r *http.Request, key string, sess *analytics.Session) {
	q := r.URL.Query()
	ctx := r.Context()

	var b strings.Builder
	b.WriteString("<html><head><title>Analytics Report</title></head><body>")

	if flag(q.Get("send")) {
		switch {
		case i.opts.Gateway == nil:
			b.WriteString("<div>Warning: Can't send report. No gateway configured.</div>")
			i.metrics.DeliveriesTotal.WithLabelValues("disabled").Inc()
		case i.deliver(ctx, sess):
			b.WriteString("<div>Message: Report Sent!</div>")
		default:
			b.WriteString("<div>Warning: Report delivery failed.</div>")
		}
	}
	if flag(q.Get("clear")) {
		sess.Clear()
		b.WriteString("<div>Message: History Cleared!</div>")
	}

	b.WriteString(reportLinks)
	b.WriteString(analytics.HTMLBody(sess, i.now()))
	b.WriteString("</body></html>")

	i.saveSession(ctx, key, sess)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(b.String()))
}

// flag разбирает булев параметр так же, как форма отчета его отправляет.
func flag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "on", "yes", "1":
		return true
	}
	return false
}
