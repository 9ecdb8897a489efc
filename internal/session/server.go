package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/breeze-rmm/videocore/internal/videocore"
	"github.com/breeze-rmm/videocore/internal/workerpool"
)

// signalMessage is the JSON envelope exchanged over the signaling
// WebSocket, carrying SDP/ICE payloads and session lifecycle events.
type signalMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	Error     string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server accepts signaling WebSocket connections, negotiates one Session
// per connection, and fans out ICE servers/limits from the supplied Config
// template.
type Server struct {
	mu       sync.Mutex
	sessions map[string]*Session

	template       Config
	newFrameSource func() FrameSource
	inputSink      func() videocore.InputSink
	inputPool      *workerpool.Pool
}

// NewServer constructs a signaling server. newFrameSource/inputSink are
// factories invoked per connecting client since each session needs its own
// capture cursor and input routing state. All sessions share one bounded
// input worker pool, since they ultimately drive the same local input
// device and a slow input sink should apply backpressure globally rather
// than spawn unbounded goroutines per client.
func NewServer(template Config, newFrameSource func() FrameSource, inputSink func() videocore.InputSink) *Server {
	if template.CursorItems == nil {
		// One channel shared by every session, so a cursor command from the
		// embedding worker fans out to all connected clients.
		template.CursorItems = videocore.NewCursorChannel()
	}
	return &Server{
		sessions:       make(map[string]*Session),
		template:       template,
		newFrameSource: newFrameSource,
		inputSink:      inputSink,
		inputPool:      workerpool.New(4, 256),
	}
}

// CursorChannel exposes the shared cursor command channel so the embedding
// process can push QXL-style cursor commands into every session.
func (s *Server) CursorChannel() *videocore.CursorChannel {
	return s.template.CursorItems
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("signaling: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var msg signalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "offer":
			s.handleOffer(conn, msg)
		case "ice-candidate":
			s.handleICECandidate(msg)
		case "bye":
			s.closeSession(msg.SessionID)
			return
		default:
			slog.Warn("signaling: unknown message type", "type", msg.Type)
		}
	}
}

func (s *Server) handleOffer(conn *websocket.Conn, msg signalMessage) {
	cfg := s.template
	cfg.Source = s.newFrameSource()
	cfg.InputSink = s.inputSink()
	cfg.InputPool = s.inputPool

	sess, answer, err := NewSession(cfg, msg.SDP)
	if err != nil {
		slog.Warn("signaling: session negotiation failed", "error", err)
		_ = conn.WriteJSON(signalMessage{Type: "error", Error: err.Error()})
		return
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	if err := conn.WriteJSON(signalMessage{Type: "answer", SessionID: sess.ID, SDP: answer}); err != nil {
		slog.Warn("signaling: failed to send answer", "error", err)
		sess.Stop()
	}
}

func (s *Server) handleICECandidate(msg signalMessage) {
	s.mu.Lock()
	sess, ok := s.sessions[msg.SessionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := sess.peerConn.AddICECandidate(webrtc.ICECandidateInit{Candidate: msg.Candidate}); err != nil {
		slog.Warn("signaling: add ICE candidate failed", "session", msg.SessionID, "error", err)
	}
}

func (s *Server) closeSession(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.Stop()
	}
}

// Shutdown stops every active session.
func (s *Server) Shutdown() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Stop()
	}

	s.inputPool.StopAccepting()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.inputPool.Drain(ctx)
}
