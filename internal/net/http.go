// Package net wires the HTTP surface: the session management API, the saved
// sessions listing, health, and the websocket store endpoint.
package net

import (
	"encoding/json"
	"errors"
	"log"
	nethttp "net/http"
	"strconv"
	"time"

	"storyloom/server/internal/app"
	"storyloom/server/internal/net/ws"
	"storyloom/server/internal/snapshot"
)

type HTTPHandlerConfig struct {
	Logger *log.Logger
}

type createSessionRequest struct {
	Title string `json:"title"`
}

type createSessionResponse struct {
	SessionID int64 `json:"sessionId"`
}

type savedSessionEntry struct {
	SessionID    int64  `json:"sessionId"`
	Role         string `json:"role"`
	PlayerID     string `json:"playerId,omitempty"`
	PlayerName   string `json:"playerName,omitempty"`
	LastAccessed int64  `json:"lastAccessed"`
}

func NewHTTPHandler(registry *app.Registry, snapshots *snapshot.Store, wsHandler *ws.Handler, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /api/sessions", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, "invalid request body", nethttp.StatusBadRequest)
			return
		}
		sessionID, err := registry.Create(req.Title)
		if err != nil {
			logger.Printf("create session failed: %v", err)
			httpError(w, "failed to create session", nethttp.StatusInternalServerError)
			return
		}
		writeJSON(w, createSessionResponse{SessionID: sessionID})
	})

	mux.HandleFunc("POST /api/sessions/{id}/resume", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		sessionID, ok := pathSessionID(w, r)
		if !ok {
			return
		}
		if err := registry.Resume(sessionID); err != nil {
			if errors.Is(err, snapshot.ErrNotFound) {
				httpError(w, "session not found", nethttp.StatusNotFound)
				return
			}
			logger.Printf("resume session %d failed: %v", sessionID, err)
			httpError(w, "failed to resume session", nethttp.StatusInternalServerError)
			return
		}
		writeJSON(w, createSessionResponse{SessionID: sessionID})
	})

	mux.HandleFunc("DELETE /api/sessions/{id}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		sessionID, ok := pathSessionID(w, r)
		if !ok {
			return
		}
		if err := registry.Delete(sessionID); err != nil {
			httpError(w, "session not found", nethttp.StatusNotFound)
			return
		}
		w.WriteHeader(nethttp.StatusNoContent)
	})

	mux.HandleFunc("GET /api/sessions", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		prefs, err := snapshots.ListPreferences()
		if err != nil {
			logger.Printf("list saved sessions failed: %v", err)
			httpError(w, "failed to list sessions", nethttp.StatusInternalServerError)
			return
		}
		entries := make([]savedSessionEntry, 0, len(prefs))
		for _, p := range prefs {
			entries = append(entries, savedSessionEntry{
				SessionID:    p.SessionID,
				Role:         p.Role,
				PlayerID:     p.PlayerID,
				PlayerName:   p.PlayerName,
				LastAccessed: p.LastAccessed.UnixMilli(),
			})
		}
		writeJSON(w, entries)
	})

	mux.HandleFunc("GET /api/time", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		writeJSON(w, map[string]int64{"serverTime": time.Now().UnixMilli()})
	})

	mux.HandleFunc("/ws", wsHandler.Handle)

	return mux
}

func pathSessionID(w nethttp.ResponseWriter, r *nethttp.Request) (int64, bool) {
	sessionID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httpError(w, "invalid session id", nethttp.StatusBadRequest)
		return 0, false
	}
	return sessionID, true
}

func writeJSON(w nethttp.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
