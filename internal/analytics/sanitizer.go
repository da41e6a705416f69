package analytics

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// FilteredValue подставляется вместо значений скрытых параметров.
const FilteredValue = "**FILTERED**"

// Sanitizer решает, какие параметры скрыть и какие вызовы не писать в историю.
// Паттерны компилируются один раз при старте; после создания объект
// только читается и безопасен для конкурентного использования.
type Sanitizer struct {
	excludeURLs   []*regexp.Regexp
	excludeParams []*regexp.Regexp
}

// NewSanitizer компилирует паттерны. Ошибка в любом из них — ошибка
// конфигурации, запросы с таким набором правил не обслуживаются.
func NewSanitizer(excludeURLs, excludeParams []string) (*Sanitizer, error) {
	urls, err := CompilePatterns(excludeURLs)
	if err != nil {
		return nil, fmt.Errorf("exclude urls: %w", err)
	}
	params, err := CompilePatterns(excludeParams)
	if err != nil {
		return nil, fmt.Errorf("exclude params: %w", err)
	}
	return &Sanitizer{excludeURLs: urls, excludeParams: params}, nil
}

// CompilePatterns компилирует регулярки для сравнения со всей строкой
// (matches, а не find). Пустые строки пропускаются.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(`^(?:` + p + `)$`)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Redact возвращает параметры для записи в историю.
//
// Решение о скрытии принимается по списку исключенных URL, а не по списку
// исключенных параметров. Паттерны параметров хранятся, но в проверке
// не участвуют (см. ExcludeParamPatterns).
func (s *Sanitizer) Redact(compareURL string, raw url.Values) url.Values {
	return Filter(compareURL, raw, s.excludeURLs)
}

// ExcludedFromHistory — см. IsExcludedFromHistory.
func (s *Sanitizer) ExcludedFromHistory(compareURL string, status int) bool {
	return IsExcludedFromHistory(compareURL, s.excludeURLs, status)
}

func (s *Sanitizer) ExcludeURLPatterns() []*regexp.Regexp   { return s.excludeURLs }
func (s *Sanitizer) ExcludeParamPatterns() []*regexp.Regexp { return s.excludeParams }

// Filter скрывает все параметры вызова целиком, если URL совпал хотя бы
// с одним паттерном. Без паттернов возвращает raw как есть: вызывающий
// код не должен его менять.
func Filter(compareURL string, raw url.Values, patterns []*regexp.Regexp) url.Values {
	if len(patterns) == 0 {
		return raw
	}

	filtered := make(url.Values, len(raw))
	redact := matchesAny(compareURL, patterns)
	for k, v := range raw {
		if redact {
			filtered[k] = []string{FilteredValue}
		} else {
			filtered[k] = v
		}
	}
	return filtered
}

// IsExcludedFromHistory: вызов не попадает в историю только при статусе
// 200 или 304 и совпадении URL. Ошибки и редиректы остаются всегда.
func IsExcludedFromHistory(compareURL string, patterns []*regexp.Regexp, status int) bool {
	if status != http.StatusOK && status != http.StatusNotModified {
		return false
	}
	return matchesAny(compareURL, patterns)
}

// ComparisonURL отрезает path-параметры после первой ';'.
func ComparisonURL(path string) string {
	if i := strings.IndexByte(path, ';'); i > 0 {
		return path[:i]
	}
	return path
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
