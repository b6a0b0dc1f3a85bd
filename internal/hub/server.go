// Package hub is a development backend for the dashboard: it serves
// snapshots and the current session over HTTP, and pushes sync messages to
// websocket clients whenever a collection changes.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alsoamit/manager-dash-sub001/internal/access"
	"github.com/alsoamit/manager-dash-sub001/internal/client"
	"github.com/alsoamit/manager-dash-sub001/internal/entity"
)

const maxBodyBytes = 1 << 20

type Server struct {
	store          *Store
	broadcaster    *Broadcaster
	session        *access.Session
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

// NewServer creates a server over store. session is what /api/session
// reports; nil means nobody is signed in.
func NewServer(store *Store, broadcaster *Broadcaster, session *access.Session, allowedOrigins []string, authToken string) *Server {
	s := &Server{
		store:          store,
		broadcaster:    broadcaster,
		session:        session,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/", s.handleCollection)
}

// Handler returns the routes wrapped with security headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

// Upsert stores r and pushes it to every client.
func (s *Server) Upsert(coll entity.Collection, r entity.Record) error {
	if !s.store.Upsert(coll, r) {
		return client.ErrUnknownCollection
	}
	s.broadcaster.Publish(client.Message{Event: client.EventSync, Collection: coll, Op: client.OpUpsert, Payload: r.Data})
	return nil
}

// Remove deletes id and pushes the removal. Removing an absent id still
// pushes, clients treat it as a no-op.
func (s *Server) Remove(coll entity.Collection, id string) error {
	if !coll.Valid() {
		return client.ErrUnknownCollection
	}
	s.store.Remove(coll, id)
	s.broadcaster.Publish(client.Message{Event: client.EventSync, Collection: coll, Op: client.OpRemove, ID: id})
	return nil
}

// Replace swaps the whole collection and pushes it as a snapshot.
func (s *Server) Replace(coll entity.Collection, recs []entity.Record) error {
	if !s.store.Replace(coll, recs) {
		return client.ErrUnknownCollection
	}
	if recs == nil {
		recs = []entity.Record{}
	}
	payload, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	s.broadcaster.Publish(client.Message{Event: client.EventSync, Collection: coll, Op: client.OpSnapshot, Payload: payload})
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	sid := uuid.NewString()
	c, err := s.broadcaster.AddClient(conn, sid)
	if err != nil {
		log.Printf("ws client rejected: %v", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	log.Printf("WebSocket client connected: %s (sid %s)", r.RemoteAddr, sid)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("WebSocket client disconnected: %s (sid %s)", r.RemoteAddr, sid)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) || s.session == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, s.session)
}

// handleCollection serves
//
//	GET    /api/{collection}?date=YYYY-MM-DD
//	POST   /api/{collection}        upsert one record
//	PUT    /api/{collection}        replace the collection
//	DELETE /api/{collection}/{id}
func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/")
	parts := strings.SplitN(path, "/", 2)
	coll := entity.Collection(parts[0])
	if !coll.Valid() {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id, err := url.PathUnescape(parts[1])
		if err != nil || id == "" {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}
		s.Remove(coll, id)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.store.Snapshot(coll, r.URL.Query().Get("date")))
	case http.MethodPost:
		var rec entity.Record
		if err := decodeBody(r, &rec); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.Upsert(coll, rec)
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPut:
		var recs []entity.Record
		if err := decodeBody(r, &recs); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.Replace(coll, recs)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Hostname()
	return parsed.Host == r.Host || host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves handler on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
