package l1state

import (
	"log/slog"
	"sync"

	"github.com/sickwell/osmocom-bb-raw/internal/msgb"
)

// Channel selects one of the logical channel transmit queues
type Channel int

const (
	ChanMain Channel = iota
	ChanSACCH
	NumChannels
)

func (c Channel) String() string {
	switch c {
	case ChanMain:
		return "main"
	case ChanSACCH:
		return "sacch"
	}
	return "invalid"
}

// TxQueue is a FIFO of frames waiting for their transmit opportunity.
// The dispatcher enqueues; the frame path dequeues and owns what it takes.
type TxQueue struct {
	mu   sync.Mutex
	msgs []*msgb.Msg

	logger *slog.Logger
}

// Enqueue appends a message; the queue takes ownership
func (q *TxQueue) Enqueue(msg *msgb.Msg) {
	q.mu.Lock()
	q.msgs = append(q.msgs, msg)
	q.mu.Unlock()
}

// Dequeue removes the oldest message, or returns nil when empty
func (q *TxQueue) Dequeue() *msgb.Msg {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.msgs) == 0 {
		return nil
	}
	msg := q.msgs[0]
	q.msgs[0] = nil
	q.msgs = q.msgs[1:]
	return msg
}

// Flush frees every queued message and returns how many were dropped
func (q *TxQueue) Flush() int {
	q.mu.Lock()
	msgs := q.msgs
	q.msgs = nil
	q.mu.Unlock()

	for _, msg := range msgs {
		release(q.logger, msg, "tx_queue")
	}
	return len(msgs)
}

// Len returns the number of queued messages
func (q *TxQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// release frees msg and logs a failed free
func release(logger *slog.Logger, msg *msgb.Msg, where string) {
	if err := msg.Free(); err != nil && logger != nil {
		logger.Error("Failed to release message",
			slog.String("where", where),
			slog.String("error", err.Error()),
		)
	}
}
