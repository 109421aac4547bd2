// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/cane_logger/internal/config"
	"github.com/relabs-tech/cane_logger/internal/session"
	"github.com/relabs-tech/cane_logger/internal/settings"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// RunWeb serves the latest session state, the history index and a live
// state stream.
func RunWeb() error {
	cfg := config.Get()

	store, err := settings.OpenSQLite(cfg.SettingsDB)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := newWebServer(func() ([]string, error) {
		return store.Strings(settings.HistoryKey)
	})

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)
	if err := subscribeState(client, cfg.TopicSessionState, "web", srv.update); err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, srv.routes())
}

type wsClient struct {
	send chan session.State
	done chan struct{}
}

type webServer struct {
	history func() ([]string, error)

	mu      sync.RWMutex
	last    session.State
	have    bool
	clients map[*wsClient]struct{}
}

func newWebServer(history func() ([]string, error)) *webServer {
	return &webServer{history: history, clients: make(map[*wsClient]struct{})}
}

func (s *webServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// update stores st and fans it out. Slow websocket clients miss states
// rather than blocking the MQTT handler.
func (s *webServer) update(st session.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = st
	s.have = true
	for c := range s.clients {
		select {
		case c.send <- st:
		default:
		}
	}
}

func (s *webServer) handleSession(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	st, have := s.last, s.have
	s.mu.RUnlock()

	if !have {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, st)
}

func (s *webServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	files, err := s.history()
	if err != nil {
		log.Printf("web: history read error: %v", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, files)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (s *webServer) register() *wsClient {
	c := &wsClient{send: make(chan session.State, 8), done: make(chan struct{})}
	s.mu.Lock()
	if s.have {
		c.send <- s.last
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	return c
}

func (s *webServer) unregister(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// handleWS streams every state update as a JSON text message. The client
// is registered before the upgrade so no update after the handshake is lost.
func (s *webServer) handleWS(w http.ResponseWriter, r *http.Request) {
	c := s.register()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.unregister(c)
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()
	defer s.unregister(c)

	go func() {
		defer close(c.done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-c.done:
			return
		case st := <-c.send:
			if err := conn.WriteJSON(st); err != nil {
				log.Printf("web: websocket write error: %v", err)
				return
			}
		}
	}
}
