// Package server hosts the programmer over HTTP: a /ws WebSocket
// endpoint carrying JSON-RPC text messages, and the bundled web UI on
// every other path.
package server

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/norbytes/flashprog/embedded"
	"github.com/norbytes/flashprog/internal/rpc"
)

// Server accepts WebSocket connections and feeds their text messages to
// a JSON-RPC dispatcher. The flash chip is a single shared resource, so
// one mutex serializes command execution across all connections.
type Server struct {
	dispatcher *rpc.Dispatcher
	upgrader   websocket.Upgrader

	// flashMu serializes flash commands. Requests are read and queued
	// concurrently, but only one touches the bus at a time.
	flashMu sync.Mutex
}

// New returns a Server dispatching to d.
func New(d *rpc.Dispatcher) *Server {
	return &Server{
		dispatcher: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// The UI may be opened from file:// or another port.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routing for the server: the WebSocket
// endpoint on /ws and the embedded web UI everywhere else.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.Handle("/", http.FileServer(http.FS(embedded.WebUI())))
	return mux
}

// ListenAndServe runs the server on addr until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	log.Printf("listening on http://%s", addr)
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	return srv.ListenAndServe()
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	log.Printf("client connected: %s", r.RemoteAddr)

	s.serveConn(conn, r.RemoteAddr)
}

// serveConn reads messages until the connection drops. Each message is
// handled in its own goroutine so a slow erase poll loop on one request
// does not stall the read side; writeMu keeps the single-writer rule of
// the websocket package.
func (s *Server) serveConn(conn *websocket.Conn, remote string) {
	defer conn.Close()

	var writeMu sync.Mutex
	var pending sync.WaitGroup
	defer pending.Wait()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("client %s: %v", remote, err)
			} else {
				log.Printf("client disconnected: %s", remote)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		pending.Add(1)
		go func(msg []byte) {
			defer pending.Done()
			reply := s.handle(msg)
			if reply == nil {
				return
			}
			writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, reply)
			writeMu.Unlock()
			if err != nil {
				log.Printf("write to %s: %v", remote, err)
			}
		}(msg)
	}
}

// handle maps one inbound text message to its reply. The bare "ping"
// liveness probe is answered without touching the dispatcher or the
// flash; everything else is a JSON-RPC request executed under the flash
// mutex. A nil reply means the message was a notification.
func (s *Server) handle(msg []byte) []byte {
	if string(msg) == "ping" {
		return []byte("pong")
	}

	s.flashMu.Lock()
	defer s.flashMu.Unlock()
	return s.dispatcher.Dispatch(msg)
}
