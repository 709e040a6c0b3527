package server

import "net/http"

// SetupRoutes returns a ServeMux with every HTTP route served by h.
func SetupRoutes(h *Hub) *http.ServeMux {
	ws := WebSocketHandler(h)

	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", ws)
	mux.HandleFunc("/api/socket", ws)
	mux.HandleFunc("/api/status", StatusHandler(h))
	mux.HandleFunc("/test", TestPageHandler)
	return mux
}
