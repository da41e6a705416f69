package revision

import (
	"net/http"
	"runtime/debug"
)

// Static всегда отдает одну и ту же ревизию (из конфига или ldflags).
type Static string

func (s Static) Resolve(*http.Request) (string, bool) {
	return string(s), s != ""
}

// FromBuildInfo берет vcs.revision, которую go build вшивает в бинарь.
// Пустая строка — бинарь собран без VCS-информации.
func FromBuildInfo() Static {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var rev string
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return Static(rev)
}

// Header читает ревизию из заголовка запроса,
// например X-Source-Revision от балансировщика при канареечных выкладках.
type Header string

func (h Header) Resolve(r *http.Request) (string, bool) {
	v := r.Header.Get(string(h))
	return v, v != ""
}
