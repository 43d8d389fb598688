package server

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/voxwire/voxwire/pkg/errorsx"
	"github.com/voxwire/voxwire/pkg/protocol"
)

// peer owns the write side of one connection. All outgoing messages funnel
// through a single writer goroutine so ordering is preserved and the
// websocket never sees concurrent writes.
type peer struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func newPeer(conn *websocket.Conn, queue int) *peer {
	if queue <= 0 {
		queue = 256
	}
	p := &peer{
		conn:   conn,
		sendCh: make(chan []byte, queue),
		done:   make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

// Send encodes and enqueues one message. It blocks when the queue is full
// so synthesis fragments are never dropped or reordered.
func (p *peer) Send(msg protocol.ServerMessage) error {
	b, err := protocol.EncodeServer(msg)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return errorsx.Wrap(errors.New("connection closed"), errorsx.ReasonTransportClosed)
	default:
	}
	select {
	case p.sendCh <- b:
		return nil
	case <-p.done:
		return errorsx.Wrap(errors.New("connection closed"), errorsx.ReasonTransportClosed)
	}
}

func (p *peer) writeLoop() {
	for {
		select {
		case b := <-p.sendCh:
			if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}
