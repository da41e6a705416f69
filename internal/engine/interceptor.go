package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/reqtrail/internal/analytics"
	"github.com/xela07ax/reqtrail/internal/infra"
	"github.com/xela07ax/reqtrail/internal/repository"
)

// SessionStore — внешнее хранилище сессий посетителей.
// Load возвращает repository.ErrNotFound, если сессии нет.
type SessionStore interface {
	Load(ctx context.Context, key string) (*analytics.Session, error)
	Save(ctx context.Context, key string, s *analytics.Session) error
}

// Gateway доставляет отчет по сессии во внешний коллектор.
type Gateway interface {
	Deliver(ctx context.Context, s *analytics.Session) error
}

// IdentityResolver отвечает на вопрос "кто сейчас пользователь".
type IdentityResolver interface {
	Resolve(r *http.Request) (any, bool)
}

// RevisionResolver отдает ревизию кода, обслужившего запрос.
type RevisionResolver interface {
	Resolve(r *http.Request) (string, bool)
}

// DefaultReportPath — страница отчета, если ReportPath не задан.
const DefaultReportPath = "/analytics"

// Options — настройки перехватчика. Gateway, Identity и Revision
// необязательны: nil означает, что функция выключена.
type Options struct {
	ReportPath       string
	SessionAttribute string
	MaxHistorySize   int
	Sanitizer        *analytics.Sanitizer

	Gateway  Gateway
	Identity IdentityResolver
	Revision RevisionResolver

	// SessionID достает идентификатор посетителя из запроса.
	// По умолчанию — SessionIDFromContext (см. SessionMiddleware).
	SessionID func(r *http.Request) string
}

// Interceptor записывает историю запросов посетителя и обслуживает
// страницу отчета. Сам по себе потокобезопасен; сессию одного посетителя
// в каждый момент должен обрабатывать один запрос.
type Interceptor struct {
	store   SessionStore
	opts    Options
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewInterceptor(store SessionStore, opts Options, metrics *Metrics, logger *zap.Logger) *Interceptor {
	if opts.ReportPath == "" {
		// пустой суффикс совпал бы с любым URL
		opts.ReportPath = DefaultReportPath
	}
	if opts.Sanitizer == nil {
		// нулевой Sanitizer ничего не скрывает и не исключает
		opts.Sanitizer = &analytics.Sanitizer{}
	}
	if opts.SessionID == nil {
		opts.SessionID = func(r *http.Request) string { return SessionIDFromContext(r.Context()) }
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	logger = logger.Named("interceptor")
	if opts.Gateway == nil {
		logger.Warn("no gateway configured, reports will not be sent")
	} else {
		logger.Info("gateway loaded")
	}
	if opts.Identity != nil {
		logger.Info("identity resolver loaded")
	}
	if opts.Revision != nil {
		logger.Info("revision resolver loaded")
	}

	return &Interceptor{
		store:   store,
		opts:    opts,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Middleware оборачивает обработчик приложения.
func (i *Interceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := i.opts.SessionID(r)
		if sessionID == "" {
			// Без идентификатора историю привязать не к чему
			next.ServeHTTP(w, r)
			return
		}

		key := infra.SessionKey(i.opts.SessionAttribute, sessionID)
		sess := i.loadSession(r, key)

		compareURL := analytics.ComparisonURL(r.URL.Path)
		if strings.HasSuffix(compareURL, i.opts.ReportPath) {
			i.serveReport(w, r, key, sess)
			return
		}

		i.record(w, r, next, key, sess, compareURL)
	})
}

func (i *Interceptor) record(w http.ResponseWriter, r *http.Request, next http.Handler, key string, sess *analytics.Session, compareURL string) {
	var rev string
	if i.opts.Revision != nil {
		rev, _ = i.opts.Revision.Resolve(r)
	}

	params := i.opts.Sanitizer.Redact(compareURL, requestParameters(r))
	rec := analytics.NewRecord(i.now(), r.Method, requestURL(r), r.URL.RawQuery, params, rev)
	sw := newStatusWriter(w)

	defer func() {
		p := recover()
		var failure *analytics.Failure
		if p != nil {
			failure = analytics.CapturePanic(p, i.now())
		}

		i.complete(r, key, sess, rec, sw, failure, compareURL)

		// перехват только наблюдает: паника уходит дальше без изменений
		if p != nil {
			panic(p)
		}
	}()

	next.ServeHTTP(sw, r)
}

func (i *Interceptor) complete(r *http.Request, key string, sess *analytics.Session, rec *analytics.Record, sw *statusWriter, failure *analytics.Failure, compareURL string) {
	// клиент мог уже отключиться, а сессию сохранить и отчет отправить нужно
	ctx := context.WithoutCancel(r.Context())

	status := sw.Status()
	if failure != nil && !sw.wroteHeader {
		// ответ еще не начат — клиент получит 500 от Recoverer или обрыв соединения
		status = http.StatusInternalServerError
	}
	if err := rec.Close(status, i.now(), failure); err != nil {
		i.logger.Error("record closed twice", zap.String("url", rec.URL()), zap.Error(err))
	}

	i.metrics.TotalRequests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
	i.metrics.RequestDuration.WithLabelValues(r.Method).Observe(rec.Duration().Seconds())

	if i.opts.Sanitizer.ExcludedFromHistory(compareURL, status) {
		i.metrics.ExcludedTotal.Inc()
	} else {
		sess.AppendHistory(rec)
	}

	if i.opts.Identity != nil {
		if details, ok := i.opts.Identity.Resolve(r); ok {
			sess.SetUserDetails(details)
		}
	}

	i.saveSession(ctx, key, sess)

	// отказы уходят в коллектор даже если вызов исключен из истории
	if failure != nil {
		i.metrics.FailuresTotal.Inc()
		i.logger.Error("request handler panicked",
			zap.String("method", r.Method),
			zap.String("url", rec.URLWithQuery()),
			zap.String("failure", failure.Message))
		i.deliver(ctx, sess)
	}
}

func (i *Interceptor) loadSession(r *http.Request, key string) *analytics.Session {
	sess, err := i.store.Load(r.Context(), key)
	if err == nil {
		return sess
	}
	if !errors.Is(err, repository.ErrNotFound) {
		// хранилище недоступно — работаем с новой сессией, запрос не ломаем
		i.metrics.StoreErrors.WithLabelValues("load").Inc()
		i.logger.Warn("session load failed", zap.String("key", key), zap.Error(err))
	}
	return analytics.NewSession(i.now(), i.opts.MaxHistorySize, r.Referer(), clientIP(r))
}

func (i *Interceptor) saveSession(ctx context.Context, key string, sess *analytics.Session) {
	if err := i.store.Save(ctx, key, sess); err != nil {
		i.metrics.StoreErrors.WithLabelValues("save").Inc()
		i.logger.Error("session save failed", zap.String("key", key), zap.Error(err))
	}
}

// deliver — доставка не более одного раза; ошибка только логируется.
func (i *Interceptor) deliver(ctx context.Context, sess *analytics.Session) bool {
	if i.opts.Gateway == nil {
		i.metrics.DeliveriesTotal.WithLabelValues("disabled").Inc()
		return false
	}
	if err := i.opts.Gateway.Deliver(ctx, sess); err != nil {
		i.metrics.DeliveriesTotal.WithLabelValues("error").Inc()
		i.logger.Error("report delivery failed", zap.String("ip", sess.IP()), zap.Error(err))
		return false
	}
	i.metrics.DeliveriesTotal.WithLabelValues("ok").Inc()
	return true
}

// requestParameters объединяет query и form параметры, как getParameterMap.
func requestParameters(r *http.Request) url.Values {
	if err := r.ParseForm(); err != nil {
		return r.URL.Query()
	}
	return r.Form
}

// requestURL — абсолютный URL без query string.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// clientIP: последний адрес из X-Forwarded-For, иначе адрес соединения.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.LastIndexByte(fwd, ','); i >= 0 {
			fwd = fwd[i+1:]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
