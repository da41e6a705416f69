package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

// Небольшое демо-приложение за перехватчиком: каталог виджетов,
// один из которых сломан, чтобы было что увидеть в отчете.

type widget struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

type catalog struct {
	mu      sync.RWMutex
	widgets map[int]widget
}

func newCatalog() *catalog {
	return &catalog{widgets: map[int]widget{
		1: {ID: 1, Name: "sprocket", Stock: 12},
		2: {ID: 2, Name: "flange", Stock: 3},
		7: {ID: 7, Name: "gimbal", Stock: -1}, // битая запись склада
	}}
}

func mountApp(r chi.Router) {
	c := newCatalog()

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><h1>Widgets</h1>` +
			`<p><a href="/app/widgets">catalog</a> | <a href="/app/widgets/7">broken widget</a> | ` +
			`<a href="/app/analytics">analytics report</a></p></body></html>`))
	})

	r.Route("/app", func(r chi.Router) {
		r.Get("/widgets", c.list)
		r.Get("/widgets/{id}", c.get)
		r.Post("/login", login)
	})
}

func (c *catalog) list(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	out := make([]widget, 0, len(c.widgets))
	for _, wd := range c.widgets {
		out = append(out, wd)
	}
	c.mu.RUnlock()
	writeJSON(w, out)
}

func (c *catalog) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "bad widget id", http.StatusBadRequest)
		return
	}

	c.mu.RLock()
	wd, ok := c.widgets[id]
	c.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if wd.Stock < 0 {
		panic(errors.Wrap(checkStock(wd), "render widget"))
	}
	writeJSON(w, wd)
}

func checkStock(wd widget) error {
	return errors.Errorf("widget %d: negative stock %d", wd.ID, wd.Stock)
}

// login — форма входа; пароль в параметрах, его прячут exclude_urls.
func login(w http.ResponseWriter, r *http.Request) {
	if r.PostFormValue("user") == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, "/app/widgets", http.StatusFound)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
