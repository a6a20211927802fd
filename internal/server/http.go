package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/polyroom/polyroom/internal/logging"
	"github.com/polyroom/polyroom/internal/room"
)

// requestTimeout bounds each read of a request head on a kept-alive
// connection.
const requestTimeout = 30 * time.Second

// resourceKinds are the first-level asset directories served from the
// resource tree.
var resourceKinds = map[string]bool{
	"css":  true,
	"html": true,
	"icon": true,
	"js":   true,
}

// serveHTTP reads requests off the connection until the peer goes away,
// an error occurs, or the connection is promoted to a WebSocket.
func (s *Server) serveHTTP(conn net.Conn, br *bufio.Reader, remoteAddr string) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(requestTimeout))
		req, err := http.ReadRequest(br)
		if err != nil {
			if benignNetError(err) {
				closeWrite(conn)
			} else {
				logging.Error("Failed to read HTTP request",
					zap.String("remote_addr", remoteAddr),
					zap.Error(err),
				)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Time{})

		upgraded, keepAlive := s.handleRequest(conn, br, req, remoteAddr)
		if upgraded {
			// The WebSocket session owns the connection now.
			return
		}
		if !keepAlive {
			closeWrite(conn)
			return
		}
	}
}

// handleRequest routes one request. It reports whether the connection
// was promoted to a WebSocket and whether it may carry another request.
func (s *Server) handleRequest(conn net.Conn, br *bufio.Reader, req *http.Request, remoteAddr string) (upgraded, keepAlive bool) {
	keepAlive = !req.Close

	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodPost:
	default:
		s.writeError(conn, req, http.StatusBadRequest, "Unknown HTTP-method")
		drainBody(req)
		return false, keepAlive
	}

	target := req.URL.Path
	if target == "" || target[0] != '/' || strings.Contains(target, "..") {
		s.writeError(conn, req, http.StatusBadRequest, "Illegal request-target")
		drainBody(req)
		return false, keepAlive
	}

	segs := splitPath(target)

	if len(segs) > 0 && segs[0] == "favicon.ico" {
		s.writeNotFound(conn, req, target)
		drainBody(req)
		return false, keepAlive
	}

	// No room in the path: mint a fresh one and send the client to it.
	if len(segs) == 0 {
		drainBody(req)
		roomID := room.NewID("room-")
		if _, err := s.opts.Provider.EnsureRoom(roomID); err != nil {
			logging.Error("Failed to create room", zap.Error(err))
			s.writeError(conn, req, http.StatusInternalServerError, "An error occurred")
			return false, keepAlive
		}
		s.writeRedirect(conn, req, fmt.Sprintf("%s/%s/html/index.html", s.opts.Provider.BaseURL(), roomID))
		return false, keepAlive
	}

	roomID := segs[0]
	if !strings.HasPrefix(roomID, "room-") {
		roomID = "room-" + roomID
	}
	rm, err := s.opts.Provider.EnsureRoom(roomID)
	if err != nil {
		logging.Error("Failed to open room",
			zap.String("room", roomID),
			zap.Error(err),
		)
		s.writeError(conn, req, http.StatusInternalServerError, "An error occurred")
		drainBody(req)
		return false, keepAlive
	}

	if websocket.IsWebSocketUpgrade(req) {
		s.upgradeWS(conn, br, req, rm, remoteAddr)
		return true, false
	}

	// Bare room URL: canonicalize to the entry page.
	if len(segs) == 1 {
		drainBody(req)
		s.writeRedirect(conn, req, fmt.Sprintf("%s/%s/html/index.html", s.opts.Provider.BaseURL(), roomID))
		return false, keepAlive
	}

	switch {
	case resourceKinds[segs[1]]:
		drainBody(req)
		s.serveFile(conn, req, s.opts.ResourceDir, segs[1:])
	case segs[1] == "plugin":
		drainBody(req)
		if len(segs) < 3 {
			s.writeNotFound(conn, req, target)
			break
		}
		s.serveFile(conn, req, s.opts.PluginDir, segs[2:])
	default:
		s.serveAPI(conn, req, rm, segs[1])
	}
	return false, keepAlive
}

// serveAPI dispatches a POSTed API call into the room and returns the
// plugin's response as JSON. Any dispatch failure collapses to a 400, so
// plugins cannot leak internals to the wire.
func (s *Server) serveAPI(conn net.Conn, req *http.Request, rm *room.Room, api string) {
	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		s.writeError(conn, req, http.StatusBadRequest, "Invalid API call.")
		return
	}

	var call struct {
		SessionUUID string          `json:"sessionUUID"`
		Parameters  json.RawMessage `json:"parameters"`
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &call); err != nil {
			s.writeError(conn, req, http.StatusBadRequest, "Invalid API call.")
			return
		}
	}
	if call.Parameters == nil {
		call.Parameters = json.RawMessage(`{}`)
	}

	response, err := rm.Dispatch(api, call.SessionUUID, call.Parameters)
	if err != nil {
		s.writeError(conn, req, http.StatusBadRequest, "Invalid API call.")
		return
	}
	if response == nil {
		response = json.RawMessage(`{}`)
	}
	_ = s.writeResponse(conn, req, http.StatusOK, "application/json", []byte(response), nil)
}

// serveFile streams a static asset out of baseDir. The path segments
// have already been screened for dot-dot.
func (s *Server) serveFile(conn net.Conn, req *http.Request, baseDir string, segs []string) {
	target := "/" + strings.Join(segs, "/")
	path := filepath.Join(baseDir, filepath.Join(segs...))

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.writeNotFound(conn, req, target)
			return
		}
		s.writeError(conn, req, http.StatusInternalServerError, "An error occurred")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		s.writeNotFound(conn, req, target)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	resp := &http.Response{
		StatusCode:    http.StatusOK,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Request:       req,
		Header:        make(http.Header),
		ContentLength: info.Size(),
		Close:         req.Close,
	}
	resp.Header.Set("Content-Type", contentType)
	if req.Method != http.MethodHead {
		resp.Body = f
	}
	_ = resp.Write(conn)
}

// writeResponse serializes a response onto the raw connection.
func (s *Server) writeResponse(conn net.Conn, req *http.Request, status int, contentType string, body []byte, extra http.Header) error {
	resp := &http.Response{
		StatusCode: status,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Request:    req,
		Header:     make(http.Header),
		Close:      req.Close,
	}
	resp.Header.Set("Content-Type", contentType)
	for key, values := range extra {
		resp.Header[key] = values
	}
	if len(body) > 0 && req.Method != http.MethodHead {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.ContentLength = int64(len(body))
	} else {
		resp.Body = http.NoBody
		resp.ContentLength = 0
	}
	return resp.Write(conn)
}

func (s *Server) writeError(conn net.Conn, req *http.Request, status int, message string) {
	_ = s.writeResponse(conn, req, status, "text/html", []byte(message), nil)
}

func (s *Server) writeNotFound(conn net.Conn, req *http.Request, target string) {
	message := fmt.Sprintf("The resource '%s' was not found.", target)
	_ = s.writeResponse(conn, req, http.StatusNotFound, "text/html", []byte(message), nil)
}

func (s *Server) writeRedirect(conn net.Conn, req *http.Request, location string) {
	extra := http.Header{"Location": []string{location}}
	_ = s.writeResponse(conn, req, http.StatusMovedPermanently, "text/html", nil, extra)
}

// splitPath breaks a request target into clean segments, dropping empty
// ones so "/room-a//html/" and "/room-a/html" route alike.
func splitPath(target string) []string {
	raw := strings.Split(target, "/")
	segs := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}

// drainBody consumes whatever body the request carried so the next
// request on the connection starts at the right byte.
func drainBody(req *http.Request) {
	if req.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, req.Body)
	_ = req.Body.Close()
}
