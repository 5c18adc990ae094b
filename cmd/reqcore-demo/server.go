package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
)

// item is the demo's one resource type.
type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// demoServer is a tiny in-memory items API plus two endpoints built to
// exercise reqcore's resilience features: /flaky fails its first few
// calls (RetryFeature), /slow sleeps past a short client timeout
// (TIMEOUT classification).
type demoServer struct {
	mu      sync.Mutex
	items   map[string]item
	nextID  int
	flaky   int32 // calls remaining to fail before /flaky succeeds
}

func newDemoServer() *demoServer {
	return &demoServer{
		items:  map[string]item{"1": {ID: "1", Name: "seed"}},
		nextID: 2,
		flaky:  2,
	}
}

func (s *demoServer) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/items", s.listItems).Methods(http.MethodGet)
	r.HandleFunc("/items", s.createItem).Methods(http.MethodPost)
	r.HandleFunc("/items/{id}", s.getItem).Methods(http.MethodGet)
	r.HandleFunc("/items/{id}", s.updateItem).Methods(http.MethodPut)
	r.HandleFunc("/items/{id}", s.deleteItem).Methods(http.MethodDelete)
	r.HandleFunc("/flaky", s.flakyHandler).Methods(http.MethodGet)
	r.HandleFunc("/slow", s.slowHandler).Methods(http.MethodGet)
	return r
}

// newDemoTestServer starts the demo server on an ephemeral local port and
// returns its base URL alongside a shutdown func.
func newDemoTestServer() (string, func()) {
	s := newDemoServer()
	ts := httptest.NewServer(s.router())
	return ts.URL, ts.Close
}

func (s *demoServer) listItems(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *demoServer) createItem(w http.ResponseWriter, r *http.Request) {
	var in item
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	in.ID = strconv.Itoa(s.nextID)
	s.nextID++
	s.items[in.ID] = in
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, in)
}

func (s *demoServer) getItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	it, ok := s.items[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *demoServer) updateItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in item
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	in.ID = id
	s.mu.Lock()
	s.items[id] = in
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, in)
}

func (s *demoServer) deleteItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *demoServer) flakyHandler(w http.ResponseWriter, r *http.Request) {
	if atomic.AddInt32(&s.flaky, -1) >= 0 {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *demoServer) slowHandler(w http.ResponseWriter, r *http.Request) {
	time.Sleep(2 * time.Second)
	writeJSON(w, http.StatusOK, map[string]string{"status": "eventually"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
