package http

import (
	"chatterbox/internal/api"
	"chatterbox/internal/ws"
	"context"
	"log"
	"net/http"
	"sync"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(apiHandlers *api.API, wsServer *ws.Server, addr string) *APIServer {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/contacts", apiHandlers.RequireUser(apiHandlers.ContactsHandler))
	mux.HandleFunc("GET /api/chats", apiHandlers.RequireUser(apiHandlers.ChatsHandler))
	mux.HandleFunc("GET /api/messages/{id}", apiHandlers.RequireUser(apiHandlers.MessagesHandler))
	mux.HandleFunc("POST /api/messages/send/{id}", api.RequireSameOrigin(apiHandlers.RequireUser(apiHandlers.SendHandler)))
	mux.HandleFunc("POST /api/upload/image", api.RequireSameOrigin(apiHandlers.RequireUser(apiHandlers.UploadImageHandler)))
	mux.HandleFunc("GET /api/images/{id}", apiHandlers.GetImageHandler)
	mux.HandleFunc("GET /api/push/key", apiHandlers.PushKeyHandler)
	mux.HandleFunc("POST /api/push/subscribe", api.RequireSameOrigin(apiHandlers.RequireUser(apiHandlers.PushSubscribeHandler)))

	// WebSocket endpoint
	mux.HandleFunc("/api/ws", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
