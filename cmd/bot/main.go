package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/model"
	"upend.gg/internal/sim/peer"
)

type frame struct {
	rpc   *protocol.RPCMsg
	state *protocol.StateMsg
}

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name  = flag.String("name", "bot", "player name")
		codec = flag.String("codec", protocol.CodecJSON, "frame codec: json or msgpack")
		ticks = flag.Uint64("ticks", 0, "stop after this many ticks (0 runs until interrupted)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerName:      *name,
		Codec:           *codec,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		logger.Fatalf("read WELCOME: %v", err)
	}
	var wel protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &wel); err != nil || wel.Type != protocol.TypeWelcome {
		logger.Fatalf("expected WELCOME: %s", msg)
	}
	if wel.Tuning == nil || wel.Tuning.Digest() != wel.TuningDigest {
		logger.Fatalf("WELCOME tuning does not match its digest")
	}
	logger.Printf("WELCOME player_id=%s session=%s codec=%s tick=%d", wel.PlayerID, wel.SessionID, wel.Codec, wel.Tick)

	c, err := protocol.CodecFor(wel.Codec)
	if err != nil {
		logger.Fatalf("codec: %v", err)
	}
	p, err := peer.New(model.PlayerID(wel.PlayerID), *wel.Tuning)
	if err != nil {
		logger.Fatalf("peer: %v", err)
	}
	p.SetName(*name)

	frames := make(chan frame, 256)
	go readFrames(conn, c, frames, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	dt := wel.Tuning.TickSeconds()
	ticker := time.NewTicker(time.Duration(dt * float64(time.Second)))
	defer ticker.Stop()

	frameType := websocket.TextMessage
	if c.Binary() {
		frameType = websocket.BinaryMessage
	}

	var n uint64
	for {
		select {
		case <-stop:
			return
		case f, ok := <-frames:
			if !ok {
				logger.Printf("connection closed")
				return
			}
			apply(p, f, logger)
		case <-ticker.C:
			out := p.Step(scriptInput(n))
			if err := send(conn, c, frameType, out.Input); err != nil {
				logger.Printf("send INPUT: %v", err)
				return
			}
			for _, m := range out.RPCs {
				if err := send(conn, c, frameType, m); err != nil {
					logger.Printf("send RPC: %v", err)
					return
				}
				logger.Printf("-> %s %s", m.Call, m.ObjectID)
			}
			p.Present(dt)
			for _, cue := range p.DrainCues() {
				if cue.Player == p.Self {
					logger.Printf("cue %v object=%s", cue.Kind, cue.Object)
				}
			}
			n++
			if *ticks > 0 && n >= *ticks {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
				return
			}
		}
	}
}

// readFrames decodes server frames until the connection drops.
func readFrames(conn *websocket.Conn, c protocol.Codec, out chan<- frame, logger *log.Logger) {
	defer close(out)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.Decode(c, msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeRPC:
			var m protocol.RPCMsg
			if err := c.Unmarshal(msg, &m); err != nil {
				logger.Printf("bad RPC frame: %v", err)
				continue
			}
			out <- frame{rpc: &m}
		case protocol.TypeState:
			var st protocol.StateMsg
			if err := c.Unmarshal(msg, &st); err != nil {
				logger.Printf("bad STATE frame: %v", err)
				continue
			}
			out <- frame{state: &st}
		}
	}
}

func apply(p *peer.Peer, f frame, logger *log.Logger) {
	switch {
	case f.rpc != nil:
		if err := p.ApplyRPC(*f.rpc); err != nil {
			logger.Printf("apply %s: %v", f.rpc.Call, err)
			return
		}
		logger.Printf("<- %s player=%s object=%s", f.rpc.Call, f.rpc.PlayerID, f.rpc.ObjectID)
	case f.state != nil:
		p.ApplyState(*f.state)
	}
}

func send(conn *websocket.Conn, c protocol.Codec, frameType int, v any) error {
	b, err := c.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(frameType, b)
}
