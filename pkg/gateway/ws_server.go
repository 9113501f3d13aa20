package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

// WSServer upgrades HTTP requests on the control port (8765 by contract)
// and hands connections to the gateway. The legacy panels connect to /,
// /music, and /logs; all paths speak the same framing.
type WSServer struct {
	gateway  *Gateway
	upgrader websocket.Upgrader
	options  WSConnOptions
}

// NewWSServer creates the websocket listener front-end.
func NewWSServer(gateway *Gateway, options WSConnOptions) *WSServer {
	return &WSServer{
		gateway: gateway,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The panels are served from several origins (localhost,
				// LAN hostname, tunnels); origin checks stay open.
				return true
			},
		},
		options: options,
	}
}

// Router returns the chi router for the websocket port.
func (s *WSServer) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/", s.ServeHTTP)
	r.Get("/music", s.ServeHTTP)
	r.Get("/logs", s.ServeHTTP)
	return r
}

// ServeHTTP implements http.Handler.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.gateway.logger.Warn("websocket upgrade error",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	connID := xid.New().String()
	serviceID := r.URL.Query().Get("service_id")

	wsConn := NewWSConn(connID, conn, s.gateway.logger, s.options)
	wsConn.Receive(func(message []byte) error {
		s.gateway.HandleFrame(wsConn.Context(), wsConn, message)
		return nil
	})

	s.gateway.Attach(wsConn, serviceID)
	wsConn.Start()
}
