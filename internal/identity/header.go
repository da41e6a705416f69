package identity

import "net/http"

// HeaderResolver доверяет заголовку, который проставляет прокси перед
// приложением (например, X-Forwarded-User после oauth2-proxy).
type HeaderResolver struct {
	header string
}

func NewHeaderResolver(header string) *HeaderResolver {
	return &HeaderResolver{header: header}
}

func (h *HeaderResolver) Resolve(r *http.Request) (any, bool) {
	user := r.Header.Get(h.header)
	if user == "" {
		return nil, false
	}
	return Principal{UserID: user}, true
}
