package socket

import (
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the duplex connection handed over by the upgrade.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Transport = (*websocket.Conn)(nil)

// Frame is one inbound message as read off the transport.
type Frame struct {
	Type int
	Data []byte
}
