package cloudqueues

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

type fakeMessage struct {
	id      string
	body    json.RawMessage
	ttl     int
	claimID string
}

// fakeService is an in-memory Cloud Queues v1 endpoint.
type fakeService struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	queues   map[string][]*fakeMessage
	order    []string
	nextID   int
	requests []*http.Request
	token    string

	// failWith forces the next request to fail with this status.
	failWith int
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	f := &fakeService{
		t:      t,
		queues: make(map[string][]*fakeMessage),
		token:  "test-token",
	}

	r := chi.NewRouter()
	r.Use(f.record)
	r.Post("/v2.0/tokens", f.handleTokens)
	r.Route("/v1", func(r chi.Router) {
		r.Use(f.authorize)
		r.Get("/queues", f.handleListQueues)
		r.Put("/queues/{queue}", f.handleCreateQueue)
		r.Delete("/queues/{queue}", f.handleDeleteQueue)
		r.Get("/queues/{queue}/stats", f.handleStats)
		r.Post("/queues/{queue}/messages", f.handleCreateMessages)
		r.Get("/queues/{queue}/messages", f.handleListMessages)
		r.Delete("/queues/{queue}/messages/{id}", f.handleDeleteMessage)
		r.Post("/queues/{queue}/claims", f.handleClaim)
	})

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeService) endpoint() string { return f.server.URL + "/v1" }

func (f *fakeService) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(t.Context(), &Config{
		Endpoint: f.endpoint(),
		Token:    f.token,
		ClientID: "3381af92-2b9e-11e3-b191-71861300734c",
		Region:   "ORD",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func (f *fakeService) addQueue(name string, bodies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queues[name]; !ok {
		f.order = append(f.order, name)
	}
	for _, b := range bodies {
		f.nextID++
		raw, _ := json.Marshal(b)
		f.queues[name] = append(f.queues[name], &fakeMessage{id: strconv.Itoa(f.nextID), body: raw, ttl: 300})
	}
	if f.queues[name] == nil {
		f.queues[name] = []*fakeMessage{}
	}
}

func (f *fakeService) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeService) lastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func (f *fakeService) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Clone(r.Context()))
		fail := f.failWith
		f.failWith = 0
		f.mu.Unlock()
		if fail != 0 {
			http.Error(w, `{"title":"forced failure"}`, fail)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *fakeService) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		token := f.token
		f.mu.Unlock()
		if r.Header.Get("X-Auth-Token") != token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Client-ID") == "" {
			http.Error(w, `{"title":"missing Client-ID"}`, http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeService) handleTokens(w http.ResponseWriter, r *http.Request) {
	var req map[string]map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if _, ok := req["auth"]["RAX-KSKEY:apiKeyCredentials"]; !ok {
		if _, ok := req["auth"]["passwordCredentials"]; !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}
	f.mu.Lock()
	token := f.token
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"access": map[string]any{
			"token": map[string]any{"id": token, "expires": "2030-01-01T00:00:00Z"},
			"serviceCatalog": []map[string]any{
				{
					"name": "cloudFiles",
					"type": "object-store",
					"endpoints": []map[string]any{
						{"region": "ORD", "publicURL": f.server.URL + "/files"},
					},
				},
				{
					"name": "cloudQueues",
					"type": "rax:queues",
					"endpoints": []map[string]any{
						{"region": "DFW", "publicURL": f.server.URL + "/dfw", "internalURL": f.server.URL + "/dfw-internal"},
						{"region": "ORD", "publicURL": f.server.URL + "/v1", "internalURL": f.server.URL + "/v1", "tenantId": "123456"},
					},
				},
			},
		},
	})
}

func (f *fakeService) handleListQueues(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 10
	}
	marker, _ := strconv.Atoi(r.URL.Query().Get("marker"))
	if marker >= len(f.order) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	end := min(marker+limit, len(f.order))
	queues := make([]map[string]string, 0, end-marker)
	for _, name := range f.order[marker:end] {
		queues = append(queues, map[string]string{"name": name, "href": "/v1/queues/" + name})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queues": queues,
		"links":  []map[string]string{{"rel": "next", "href": fmt.Sprintf("/v1/queues?marker=%d&limit=%d", end, limit)}},
	})
}

func (f *fakeService) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queue")
	f.mu.Lock()
	_, exists := f.queues[name]
	f.mu.Unlock()
	if exists {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	f.addQueue(name)
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeService) handleDeleteQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queue")
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.queues, name)
	for i, n := range f.order {
		if n == name {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeService) handleStats(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.queues[chi.URLParam(r, "queue")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	claimed := 0
	for _, m := range msgs {
		if m.claimID != "" {
			claimed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": map[string]int{"claimed": claimed, "free": len(msgs) - claimed, "total": len(msgs)},
	})
}

func (f *fakeService) handleCreateMessages(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queue")
	var in []struct {
		TTL  int             `json:"ttl"`
		Body json.RawMessage `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queues[name]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var resources []string
	for _, m := range in {
		f.nextID++
		id := strconv.Itoa(f.nextID)
		f.queues[name] = append(f.queues[name], &fakeMessage{id: id, body: m.Body, ttl: m.TTL})
		resources = append(resources, "/v1/queues/"+name+"/messages/"+id)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"partial": false, "resources": resources})
}

func (f *fakeService) handleListMessages(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queue")
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.queues[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var free []*fakeMessage
	for _, m := range msgs {
		if m.claimID == "" {
			free = append(free, m)
		}
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 10
	}
	marker, _ := strconv.Atoi(r.URL.Query().Get("marker"))
	if marker >= len(free) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	end := min(marker+limit, len(free))
	page := make([]map[string]any, 0, end-marker)
	for _, m := range free[marker:end] {
		page = append(page, map[string]any{
			"href": "/v1/queues/" + name + "/messages/" + m.id,
			"ttl":  m.ttl,
			"age":  1,
			"body": m.body,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": page,
		"links": []map[string]string{{
			"rel":  "next",
			"href": fmt.Sprintf("/v1/queues/%s/messages?marker=%d&limit=%d&echo=true", name, end, limit),
		}},
	})
}

func (f *fakeService) handleClaim(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queue")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 10
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.queues[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	f.nextID++
	claimID := "c" + strconv.Itoa(f.nextID)
	var out []map[string]any
	for _, m := range msgs {
		if len(out) == limit {
			break
		}
		if m.claimID != "" {
			continue
		}
		m.claimID = claimID
		out = append(out, map[string]any{
			"href": "/v1/queues/" + name + "/messages/" + m.id + "?claim_id=" + claimID,
			"ttl":  m.ttl,
			"age":  1,
			"body": m.body,
		})
	}
	if len(out) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (f *fakeService) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queue")
	id := chi.URLParam(r, "id")
	claimID := r.URL.Query().Get("claim_id")
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.queues[name]
	for i, m := range msgs {
		if m.id != id {
			continue
		}
		if m.claimID != "" && m.claimID != claimID {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		f.queues[name] = append(msgs[:i], msgs[i+1:]...)
		break
	}
	w.WriteHeader(http.StatusNoContent)
}
