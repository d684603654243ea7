// Package fakeapi is an in-process stand-in for the platform API, used by
// tests. It serves the REST contract with gorilla/mux, hands out bearer
// tokens, and runs a WebSocket hub that rebroadcasts every inbound frame to
// all other connected clients, the way the real push fanout behaves.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

type Server struct {
	mu      sync.Mutex
	users   map[string]map[string]any
	content map[string]map[string]any
	tokens  map[string]string // token -> userId
	nextID  int

	conns map[*websocket.Conn]struct{}
	srv   *httptest.Server

	// FailDelete forces DELETE on these content ids to 500, for bulk tests.
	FailDelete map[string]bool
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func New() *Server {
	s := &Server{
		users:      make(map[string]map[string]any),
		content:    make(map[string]map[string]any),
		tokens:     make(map[string]string),
		conns:      make(map[*websocket.Conn]struct{}),
		FailDelete: make(map[string]bool),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/me", s.auth(s.handleMe)).Methods(http.MethodGet)

	r.HandleFunc("/api/content", s.auth(s.handleListContent)).Methods(http.MethodGet)
	r.HandleFunc("/api/content", s.auth(s.handleCreateContent)).Methods(http.MethodPost)
	r.HandleFunc("/api/content/{id}", s.auth(s.handleUpdateContent)).Methods(http.MethodPut)
	r.HandleFunc("/api/content/{id}", s.auth(s.handleDeleteContent)).Methods(http.MethodDelete)

	r.HandleFunc("/api/admin/content", s.auth(s.handleListContent)).Methods(http.MethodGet)
	r.HandleFunc("/api/admin/content/{id}", s.auth(s.handleDeleteContent)).Methods(http.MethodDelete)
	r.HandleFunc("/api/admin/users", s.auth(s.handleListUsers)).Methods(http.MethodGet)
	r.HandleFunc("/api/admin/users/{id}", s.auth(s.handleDeleteUser)).Methods(http.MethodDelete)
	r.HandleFunc("/api/admin/users/{id}/role", s.auth(s.handleUpdateRole)).Methods(http.MethodPut)

	r.HandleFunc("/", s.handleWS)

	s.srv = httptest.NewServer(r)
	return s
}

func (s *Server) URL() string { return s.srv.URL }

func (s *Server) PushURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *Server) Close() {
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.srv.Close()
}

// ---- seeding ---------------------------------------------------------------

// SeedUser registers a user and returns a valid bearer token for them.
func (s *Server) SeedUser(id, name, email, role, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = map[string]any{
		"userId": id, "name": name, "email": email, "role": role,
		"password": password,
	}
	token := "tok-" + id
	s.tokens[token] = id
	return token
}

// SeedContent inserts a content record as-is; it must carry a contentId.
func (s *Server) SeedContent(record map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[record["contentId"].(string)] = record
}

// ContentIDs lists the stored content ids.
func (s *Server) ContentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.content))
	for id := range s.content {
		out = append(out, id)
	}
	return out
}

// Broadcast pushes a frame to every connected client, as if another client
// had mutated the collection.
func (s *Server) Broadcast(frame map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.WriteJSON(frame)
	}
}

// ---- handlers --------------------------------------------------------------

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		_, ok := s.tokens[token]
		s.mu.Unlock()
		if token == "" || !ok {
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) userForRequest(r *http.Request) map[string]any {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[s.tokens[token]]
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct{ Email, Password string }
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.users {
		if u["email"] == body.Email && u["password"] == body.Password {
			token := "tok-" + id
			s.tokens[token] = id
			writeJSON(w, map[string]any{"token": token, "user": publicUser(u)})
			return
		}
	}
	writeErr(w, http.StatusUnauthorized, "invalid credentials")
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct{ Name, Email, Password, Role string }
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Email == "" || body.Password == "" {
		writeErr(w, http.StatusBadRequest, "email and password are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u["email"] == body.Email {
			writeErr(w, http.StatusBadRequest, "email already registered")
			return
		}
	}
	s.nextID++
	id := fmt.Sprintf("u%d", s.nextID)
	s.users[id] = map[string]any{
		"userId": id, "name": body.Name, "email": body.Email,
		"role": body.Role, "password": body.Password,
	}
	writeJSON(w, map[string]any{"message": "registered"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u := s.userForRequest(r)
	if u == nil {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, map[string]any{"user": publicUser(u)})
}

func (s *Server) handleListContent(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.content))
	for _, c := range s.content {
		out = append(out, c)
	}
	writeJSON(w, out)
}

func (s *Server) handleCreateContent(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body["title"] == nil || body["title"] == "" {
		writeErr(w, http.StatusBadRequest, "title is required")
		return
	}

	creator := s.userForRequest(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	var id string
	for {
		s.nextID++
		id = fmt.Sprintf("c%d", s.nextID)
		if _, taken := s.content[id]; !taken {
			break
		}
	}
	record := map[string]any{
		"contentId": id,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range body {
		record[k] = v
	}
	if creator != nil {
		record["createdBy"] = map[string]any{"name": creator["name"]}
	}
	s.content[id] = record
	writeJSON(w, map[string]any{"content": record})
}

func (s *Server) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.content[id]
	if !ok {
		writeErr(w, http.StatusNotFound, "content not found")
		return
	}
	for k, v := range body {
		record[k] = v
	}
	record["lastUpdated"] = time.Now().UTC().Format(time.RFC3339)
	writeJSON(w, map[string]any{"content": record})
}

func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDelete[id] {
		writeErr(w, http.StatusInternalServerError, "delete failed")
		return
	}
	if _, ok := s.content[id]; !ok {
		writeErr(w, http.StatusNotFound, "content not found")
		return
	}
	delete(s.content, id)
	writeJSON(w, map[string]any{"message": "deleted"})
}

func (s *Server) handleListUsers(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, publicUser(u))
	}
	writeJSON(w, out)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		writeErr(w, http.StatusNotFound, "user not found")
		return
	}
	delete(s.users, id)
	writeJSON(w, map[string]any{"message": "deleted"})
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct{ Role string }
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		writeErr(w, http.StatusNotFound, "user not found")
		return
	}
	u["role"] = body.Role
	writeJSON(w, map[string]any{"user": publicUser(u)})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			_ = conn.Close()
		}()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			// fan inbound frames out to every other client
			s.mu.Lock()
			for other := range s.conns {
				if other != conn {
					_ = other.WriteMessage(websocket.TextMessage, raw)
				}
			}
			s.mu.Unlock()
		}
	}()
}

func publicUser(u map[string]any) map[string]any {
	out := make(map[string]any, len(u))
	for k, v := range u {
		if k == "password" {
			continue
		}
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
