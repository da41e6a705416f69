package analytics

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Origin — первый кадр стека, из которого пришла ошибка.
type Origin struct {
	File     string `json:"file"`
	Function string `json:"function"`
	Line     int    `json:"line"`
}

// Failure — снимок ошибки или паники, пойманной при обработке запроса.
// Создается один раз в момент перехвата и больше не меняется.
// Живая ошибка (Err) хранится только для отладки: после сериализации
// остаются Message и Trace.
type Failure struct {
	Err       error     `json:"-"`
	Message   string    `json:"message"`
	Origin    *Origin   `json:"origin,omitempty"` // nil, если у ошибки нет кадров стека
	Trace     string    `json:"trace"`
	Timestamp time.Time `json:"timestamp"`
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// CaptureError снимает Failure с обычной ошибки.
// Если ошибка создана через github.com/pkg/errors, берем ее собственный стек.
func CaptureError(err error, now time.Time) *Failure {
	f := &Failure{
		Err:       err,
		Message:   describe(err),
		Timestamp: now,
	}

	var frames []runtime.Frame
	if st := deepestStack(err); st != nil {
		frames = pkgFrames(st.StackTrace())
	}
	f.Origin, f.Trace = formatTrace(f.Message, frames)
	return f
}

// deepestStack ищет самый глубокий стек в цепочке: errors.Wrap добавляет
// свой стек поверх, а источник ошибки — там, где ее создали.
func deepestStack(err error) stackTracer {
	var found stackTracer
	for e := err; e != nil; e = errors.Unwrap(e) {
		if st, ok := e.(stackTracer); ok {
			found = st
		}
	}
	return found
}

// CapturePanic снимает Failure со значения recover().
// Вызывать нужно прямо из deferred-функции: стек паникующей горутины
// еще не размотан, и первый кадр после runtime.gopanic — источник паники.
func CapturePanic(v any, now time.Time) *Failure {
	err, ok := v.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", v)
	}

	if deepestStack(err) != nil {
		return CaptureError(err, now)
	}

	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	frames := panicFrames(runtime.CallersFrames(pcs[:n]))

	f := &Failure{
		Err:       err,
		Message:   describe(err),
		Timestamp: now,
	}
	f.Origin, f.Trace = formatTrace(f.Message, frames)
	return f
}

func (f *Failure) String() string {
	if f == nil {
		return ""
	}
	return f.Message
}

func describe(err error) string {
	if err == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T: %s", err, err.Error())
}

// panicFrames отрезает кадры до runtime.gopanic включительно и служебные
// runtime-кадры сразу за ним (panicmem, goPanicIndex и т.п.).
func panicFrames(it *runtime.Frames) []runtime.Frame {
	var all []runtime.Frame
	for {
		fr, more := it.Next()
		all = append(all, fr)
		if !more {
			break
		}
	}

	start := 0
	for i, fr := range all {
		if fr.Function == "runtime.gopanic" {
			start = i + 1
			break
		}
	}
	for start < len(all) && strings.HasPrefix(all[start].Function, "runtime.") {
		start++
	}
	return all[start:]
}

func pkgFrames(st errors.StackTrace) []runtime.Frame {
	pcs := make([]uintptr, len(st))
	for i, fr := range st {
		// errors.Frame хранит pc+1, как и runtime.Callers
		pcs[i] = uintptr(fr)
	}
	if len(pcs) == 0 {
		return nil
	}

	var frames []runtime.Frame
	it := runtime.CallersFrames(pcs)
	for {
		fr, more := it.Next()
		frames = append(frames, fr)
		if !more {
			break
		}
	}
	return frames
}

func formatTrace(message string, frames []runtime.Frame) (*Origin, string) {
	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n")

	var origin *Origin
	for _, fr := range frames {
		if fr.Function == "" && fr.File == "" {
			continue
		}
		if origin == nil {
			origin = &Origin{File: fr.File, Function: fr.Function, Line: fr.Line}
		}
		fmt.Fprintf(&b, "\tat %s\n\t\t%s:%d\n", fr.Function, fr.File, fr.Line)
	}
	return origin, b.String()
}
