package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/polyroom/polyroom/internal/logging"
	"github.com/polyroom/polyroom/internal/room"
)

const (
	// writeWait bounds a single frame write to a client.
	writeWait = 10 * time.Second

	// sendQueueSize is how many outbound messages a session may lag
	// behind before it is dropped as a slow consumer.
	sendQueueSize = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Rooms are joined by URL, not by origin; pages served from any
	// host may open a session.
	CheckOrigin: func(*http.Request) bool { return true },
}

// upgradeWS promotes a raw connection to a WebSocket session and joins
// it to the room. It blocks until the session ends.
func (s *Server) upgradeWS(conn net.Conn, br *bufio.Reader, req *http.Request, rm *room.Room, remoteAddr string) {
	w := &hijackWriter{conn: conn, br: br}
	wsConn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		logging.Error("WebSocket upgrade failed",
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
		return
	}

	sess := newWSSession(rm, wsConn, remoteAddr)
	sess.run()
}

// hijackWriter is the minimal http.ResponseWriter the upgrader needs to
// take over a connection that never passed through net/http's server.
type hijackWriter struct {
	conn   net.Conn
	br     *bufio.Reader
	header http.Header
	status int
}

func (w *hijackWriter) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}

func (w *hijackWriter) WriteHeader(status int) {
	if w.status != 0 {
		return
	}
	w.status = status
	fmt.Fprintf(w.conn, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	_ = w.Header().Write(w.conn)
	_, _ = w.conn.Write([]byte("\r\n"))
}

func (w *hijackWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	return w.conn.Write(p)
}

func (w *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.conn, bufio.NewReadWriter(w.br, bufio.NewWriter(w.conn)), nil
}

// wsSession is one client's live connection to a room. Outbound traffic
// goes through a bounded queue drained by a single writer goroutine;
// the reader goroutine parses frames and dispatches them.
type wsSession struct {
	uuid       string
	room       *room.Room
	conn       *websocket.Conn
	remoteAddr string

	send     chan []byte
	quit     chan struct{}
	quitOnce sync.Once
	downOnce sync.Once
}

func newWSSession(rm *room.Room, conn *websocket.Conn, remoteAddr string) *wsSession {
	return &wsSession{
		uuid:       room.NewID("session-"),
		room:       rm,
		conn:       conn,
		remoteAddr: remoteAddr,
		send:       make(chan []byte, sendQueueSize),
		quit:       make(chan struct{}),
	}
}

// UUID implements room.Session.
func (s *wsSession) UUID() string { return s.uuid }

// Send implements room.Session. It never blocks: a session whose queue
// is full is marked for teardown and the message dropped, so one stuck
// client cannot stall a room broadcast.
func (s *wsSession) Send(msg []byte) bool {
	select {
	case <-s.quit:
		return false
	default:
	}

	select {
	case s.send <- msg:
		return true
	default:
		logging.Warn("Dropping slow WebSocket session",
			zap.String("session", s.uuid),
			zap.String("remote_addr", s.remoteAddr),
		)
		s.signalQuit()
		return false
	}
}

// run joins the room, announces the new session id to every member (the
// newcomer included, which is how a client learns its own id), then
// reads until the connection dies.
func (s *wsSession) run() {
	s.room.JoinWS(s)
	go s.writePump()

	payload, _ := json.Marshal(map[string]string{"sessionUUID": s.uuid})
	s.room.BroadcastWS("initializeSession", s.uuid, payload, payload, false)

	s.readLoop()
}

// inboundFrame is the wire shape of a client request.
type inboundFrame struct {
	API         string          `json:"API"`
	SessionUUID string          `json:"sessionUUID"`
	Parameters  json.RawMessage `json:"parameters"`
}

// readLoop dispatches frames until the read side fails. A malformed
// frame is logged and skipped; the session stays up.
func (s *wsSession) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.teardown(err)
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logFault(fmt.Errorf("malformed frame: %w", err))
			continue
		}
		if frame.API == "" {
			s.logFault(fmt.Errorf("frame without API name"))
			continue
		}
		params := frame.Parameters
		if params == nil {
			params = json.RawMessage(`{}`)
		}

		if _, err := s.room.Dispatch(frame.API, frame.SessionUUID, params); err != nil {
			s.logFault(err)
		}
	}
}

// writePump is the only goroutine that writes frames. It drains the
// send queue and, on quit, tells the peer goodbye before tearing down.
func (s *wsSession) writePump() {
	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.teardown(err)
				return
			}
		case <-s.quit:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			s.teardown(nil)
			return
		}
	}
}

func (s *wsSession) signalQuit() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// teardown runs the leave sequence exactly once: drop the session's
// cursor, tell the remaining members, leave the room, close the socket.
// The cursor-removal broadcast excludes this session; it is already
// gone.
func (s *wsSession) teardown(err error) {
	s.signalQuit()
	s.downOnce.Do(func() {
		s.room.RemoveCursor(s.uuid)
		payload, _ := json.Marshal(map[string]interface{}{
			"sessionUUID": s.uuid,
			"cursor":      map[string]bool{"remove": true},
		})
		s.room.BroadcastWS("syncCursor", s.uuid, payload, nil, true)
		s.room.LeaveWS(s.uuid)
		_ = s.conn.Close()

		if err != nil && !benignWSError(err) {
			logging.Error("WebSocket session failed",
				zap.String("session", s.uuid),
				zap.String("remote_addr", s.remoteAddr),
				zap.Error(err),
			)
		}
	})
}

// logFault records a bad frame or failed dispatch in the room's log.
func (s *wsSession) logFault(err error) {
	if scope := s.room.Log(); scope != nil {
		scope.Logf(logging.LevelError, "ws %s: %v", s.uuid, err)
	}
}

// benignWSError reports the errors a normally departing client
// produces.
func benignWSError(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	return benignNetError(err)
}
