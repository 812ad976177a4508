package main

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/Thejuampi/ably-client-go/ably/codec"
	"github.com/Thejuampi/ably-client-go/ably/protocol"
)

// ---------------------------------------------------------------------------
// socketWriter: dedicated write goroutine per websocket.
//
// gorilla/websocket allows one concurrent writer, so every outbound frame
// goes through the queue. When nothing was written for the heartbeat
// interval a HEARTBEAT is sent. A full queue means a stalled client: the
// socket is closed rather than blocking the publisher.
// ---------------------------------------------------------------------------

type socketWriter struct {
	conn      *websocket.Conn
	codec     codec.Codec
	queue     chan *protocol.ProtocolMessage
	done      chan struct{}
	closeOnce sync.Once
	stop      chan struct{}
	logger    *slog.Logger
	metrics   *serverMetrics
}

func newSocketWriter(conn *websocket.Conn, frameCodec codec.Codec, depth int, heartbeat time.Duration, ticker clock.Clock, logger *slog.Logger, metrics *serverMetrics) *socketWriter {
	if depth <= 0 {
		depth = 4096
	}
	writer := &socketWriter{
		conn:    conn,
		codec:   frameCodec,
		queue:   make(chan *protocol.ProtocolMessage, depth),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
		logger:  logger,
		metrics: metrics,
	}
	go writer.run(heartbeat, ticker)
	return writer
}

// enqueue queues message without blocking. It reports false when the socket
// is closed or its queue is full.
func (writer *socketWriter) enqueue(message *protocol.ProtocolMessage) bool {
	select {
	case <-writer.stop:
		return false
	default:
	}
	select {
	case writer.queue <- message:
		return true
	default:
		writer.logger.Warn("outbound queue full, dropping socket")
		writer.close()
		return false
	}
}

// close stops the writer; frames still queued are discarded.
func (writer *socketWriter) close() {
	writer.closeOnce.Do(func() {
		close(writer.stop)
	})
}

func (writer *socketWriter) run(heartbeat time.Duration, ticker clock.Clock) {
	defer close(writer.done)
	defer writer.conn.Close()

	var heartbeats <-chan time.Time
	if heartbeat > 0 {
		timer := ticker.Ticker(heartbeat)
		defer timer.Stop()
		heartbeats = timer.C
	}
	wroteSinceTick := false
	for {
		select {
		case <-writer.stop:
			return
		case message := <-writer.queue:
			if message == nil {
				_ = writer.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				writer.close()
				return
			}
			if err := writer.write(message); err != nil {
				writer.logger.Debug("write failed", slog.Any("error", err))
				writer.close()
				return
			}
			wroteSinceTick = true
		case <-heartbeats:
			if wroteSinceTick {
				wroteSinceTick = false
				continue
			}
			if err := writer.write(&protocol.ProtocolMessage{Action: protocol.ActionHeartbeat}); err != nil {
				writer.close()
				return
			}
		}
	}
}

func (writer *socketWriter) write(message *protocol.ProtocolMessage) error {
	frame, err := writer.codec.Marshal(message)
	if err != nil {
		return err
	}
	frameType := websocket.TextMessage
	if writer.codec.Binary() {
		frameType = websocket.BinaryMessage
	}
	if err := writer.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	if err := writer.conn.WriteMessage(frameType, frame); err != nil {
		return err
	}
	writer.metrics.framesOut.WithLabelValues(message.Action.String()).Inc()
	return nil
}

// closeAfter writes message, if any, then closes the socket.
func (writer *socketWriter) closeAfter(message *protocol.ProtocolMessage) {
	if message != nil {
		writer.enqueue(message)
	}
	writer.enqueue(nil)
}
