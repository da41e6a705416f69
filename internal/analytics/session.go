package analytics

import (
	"encoding/json"
	"reflect"
	"time"
)

// Session — агрегат одного посетителя: метаданные и ограниченная история вызовов.
//
// Session не синхронизирована. Хранилище сессий обязано сериализовать доступ
// по идентификатору сессии: один запрос владеет объектом на время обработки.
type Session struct {
	creationTime    time.Time
	referer         string
	ip              string
	maxHistorySize  int
	history         []*Record
	userDetails     any
	userDetailsText string // userDetails в виде для отчета, снимается при установке
	properties      map[string]any
}

// NewSession создает пустую сессию. Отрицательный размер истории
// трактуется как 0: ничего не хранить.
func NewSession(creationTime time.Time, maxHistorySize int, referer, ip string) *Session {
	if maxHistorySize < 0 {
		maxHistorySize = 0
	}
	return &Session{
		creationTime:   creationTime,
		referer:        referer,
		ip:             ip,
		maxHistorySize: maxHistorySize,
		history:        make([]*Record, 0, min(maxHistorySize, 64)),
		properties:     make(map[string]any),
	}
}

func (s *Session) CreationTime() time.Time    { return s.creationTime }
func (s *Session) Referer() string            { return s.referer }
func (s *Session) IP() string                 { return s.ip }
func (s *Session) MaxHistorySize() int        { return s.maxHistorySize }
func (s *Session) UserDetails() any           { return s.userDetails }
func (s *Session) UserDetailsText() string    { return s.userDetailsText }
func (s *Session) Properties() map[string]any { return s.properties }

// History возвращает копию истории, от старых записей к новым.
func (s *Session) History() []*Record {
	return append([]*Record(nil), s.history...)
}

func (s *Session) Len() int { return len(s.history) }

// AppendHistory добавляет запись в конец и вытесняет самые старые,
// пока история не уложится в maxHistorySize.
func (s *Session) AppendHistory(r *Record) {
	s.history = append(s.history, r)
	if over := len(s.history) - s.maxHistorySize; over > 0 {
		clear(s.history[:over])
		s.history = s.history[over:]
	}
}

// Clear очищает историю, остальные поля не трогает.
func (s *Session) Clear() {
	clear(s.history)
	s.history = s.history[:0]
}

// LastRecord — последняя добавленная запись или nil.
func (s *Session) LastRecord() *Record {
	if len(s.history) == 0 {
		return nil
	}
	return s.history[len(s.history)-1]
}

// LastFailingRecord — последняя запись с пойманной ошибкой или nil.
func (s *Session) LastFailingRecord() *Record {
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Failure() != nil {
			return s.history[i]
		}
	}
	return nil
}

// SetUserDetails заменяет данные пользователя, только если они отличаются
// по значению. Возвращает true, если сессия изменилась.
func (s *Session) SetUserDetails(details any) bool {
	if sameValue(s.userDetails, details) {
		return false
	}
	s.userDetails = details
	s.userDetailsText = ""
	if details != nil {
		s.userDetailsText = formatDetails(details)
	}
	return true
}

// sameValue сравнивает по значению. После чтения из хранилища payload
// превращается в map[string]any, поэтому при несовпадении типов обе
// стороны приводятся к JSON-форме: порядок полей структуры не важен.
func sameValue(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	na, okA := jsonForm(a)
	nb, okB := jsonForm(b)
	return okA && okB && reflect.DeepEqual(na, nb)
}

func jsonForm(v any) (any, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}

type sessionWire struct {
	CreationTime   time.Time      `json:"creation_time"`
	Referer        string         `json:"referer,omitempty"`
	IP             string         `json:"ip"`
	MaxHistorySize int            `json:"max_history_size"`
	History        []*Record      `json:"history"`
	UserDetails    any            `json:"user_details,omitempty"`
	UserText       string         `json:"user_details_text,omitempty"`
	Properties     map[string]any `json:"properties,omitempty"`
}

func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionWire{
		CreationTime:   s.creationTime,
		Referer:        s.referer,
		IP:             s.ip,
		MaxHistorySize: s.maxHistorySize,
		History:        s.history,
		UserDetails:    s.userDetails,
		UserText:       s.userDetailsText,
		Properties:     s.properties,
	})
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var w sessionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	restored := NewSession(w.CreationTime, w.MaxHistorySize, w.Referer, w.IP)
	for _, r := range w.History {
		if r == nil {
			continue
		}
		restored.AppendHistory(r)
	}
	restored.userDetails = w.UserDetails
	restored.userDetailsText = w.UserText
	if restored.userDetailsText == "" && w.UserDetails != nil {
		restored.userDetailsText = formatDetails(w.UserDetails)
	}
	if w.Properties != nil {
		restored.properties = w.Properties
	}
	*s = *restored
	return nil
}
