package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/rpc"
	"upend.gg/internal/sim/world"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	readTimeout      = 60 * time.Second

	// Confirmations queued for one client before the world gives up on it.
	outQueue = 64
)

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	s := &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

type session struct {
	id    string
	codec protocol.Codec
	out   chan []byte
	state chan []byte
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(r.Context(), conn)
		if sess == nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		frameType := websocket.TextMessage
		if sess.codec.Binary() {
			frameType = websocket.BinaryMessage
		}

		// Writer goroutine. Confirmations go before the latest STATE so a peer never sees a
		// state that already includes an ownership change it has not been told about.
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-sess.out:
					if !ok {
						s.kicked(conn, sess.id)
						return
					}
					if err := write(conn, frameType, b); err != nil {
						return
					}
				case b := <-sess.state:
					open, err := drainOut(conn, frameType, sess.out)
					if err != nil {
						return
					}
					if !open {
						s.kicked(conn, sess.id)
						return
					}
					if err := write(conn, frameType, b); err != nil {
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			env, ok := decodeFrame(sess, msg)
			if !ok {
				continue
			}
			select {
			case s.world.Inbox() <- env:
			case <-ctx.Done():
			}
		}

		// Cleanup.
		s.world.Leave() <- sess.id
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrProtoBadRequest)
		return nil
	}
	if _, ok := protocol.SelectVersion(hello.ProtocolVersion, hello.SupportedVersions); !ok {
		closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrBadVersion)
		return nil
	}
	codec, err := protocol.CodecFor(hello.Codec)
	if err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrProtoBadRequest)
		return nil
	}
	name := strings.TrimSpace(hello.PlayerName)
	if name == "" {
		name = "player"
	}

	out := make(chan []byte, outQueue)
	state := make(chan []byte, 1)
	respCh := make(chan world.JoinResponse, 1)
	req := world.JoinRequest{Name: name, Codec: codec.Name(), Out: out, State: state, Resp: respCh}

	timer := time.NewTimer(handshakeTimeout)
	defer timer.Stop()
	select {
	case s.world.Join() <- req:
	case <-timer.C:
		closeWith(conn, websocket.CloseTryAgainLater, protocol.ErrBusy)
		return nil
	case <-ctx.Done():
		return nil
	}
	var resp world.JoinResponse
	select {
	case resp = <-respCh:
	case <-timer.C:
		// A late admission still has to be undone.
		go func() {
			if late := <-respCh; late.Err == "" {
				s.world.Leave() <- late.Welcome.PlayerID
			}
		}()
		closeWith(conn, websocket.CloseTryAgainLater, protocol.ErrBusy)
		return nil
	}
	if resp.Err != "" {
		code := websocket.ClosePolicyViolation
		if resp.Err == protocol.ErrBusy {
			code = websocket.CloseTryAgainLater
		}
		closeWith(conn, code, resp.Err)
		return nil
	}

	resp.Welcome.SessionID = ulid.Make().String()
	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.world.Leave() <- resp.Welcome.PlayerID
		return nil
	}
	s.logf("%s joined as %q (session %s, codec %s)", resp.Welcome.PlayerID, name, resp.Welcome.SessionID, codec.Name())
	return &session{id: resp.Welcome.PlayerID, codec: codec, out: out, state: state}
}

// decodeFrame turns a client frame into an envelope. Anything a client may not send is dropped.
func decodeFrame(sess *session, msg []byte) (world.Envelope, bool) {
	base, err := protocol.Decode(sess.codec, msg)
	if err != nil || base.ProtocolVersion != protocol.Version {
		return world.Envelope{}, false
	}
	switch base.Type {
	case protocol.TypeInput:
		var in protocol.InputMsg
		if err := sess.codec.Unmarshal(msg, &in); err != nil {
			return world.Envelope{}, false
		}
		return world.Envelope{PlayerID: sess.id, Input: &in}, true
	case protocol.TypeRPC:
		var m protocol.RPCMsg
		if err := sess.codec.Unmarshal(msg, &m); err != nil {
			return world.Envelope{}, false
		}
		if _, err := rpc.Decode(m, rpc.ToAuthority); err != nil {
			return world.Envelope{}, false
		}
		return world.Envelope{PlayerID: sess.id, RPC: &m}, true
	}
	return world.Envelope{}, false
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// kicked hangs up on a client the world stopped queueing for. Closing the connection also ends
// the reader loop.
func (s *Server) kicked(conn *websocket.Conn, id string) {
	s.logf("%s: outbound queue overflow, disconnecting", id)
	closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrBusy)
	_ = conn.Close()
}

// drainOut writes every confirmation already queued. open is false once the world closed out.
func drainOut(conn *websocket.Conn, frameType int, out chan []byte) (open bool, err error) {
	for {
		select {
		case b, ok := <-out:
			if !ok {
				return false, nil
			}
			if err := write(conn, frameType, b); err != nil {
				return true, err
			}
		default:
			return true, nil
		}
	}
}

func write(conn *websocket.Conn, frameType int, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(frameType, b)
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return write(conn, websocket.TextMessage, b)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}
