package robobus

import "go.uber.org/atomic"

// Stats is a point-in-time copy of a stream's counters.
type Stats struct {
	TxChunks         uint64
	TxAcked          uint64
	Retransmits      uint64
	RxAccepted       uint64
	RxDuplicates     uint64
	RxChunkMismatch  uint64
	RxStreamMismatch uint64
	Unroutable       uint64
	SendErrors       uint64
}

// counters are written by the owning goroutine and may be read from any other.
type counters struct {
	txChunks         atomic.Uint64
	txAcked          atomic.Uint64
	retransmits      atomic.Uint64
	rxAccepted       atomic.Uint64
	rxDuplicates     atomic.Uint64
	rxChunkMismatch  atomic.Uint64
	rxStreamMismatch atomic.Uint64
	unroutable       atomic.Uint64
	sendErrors       atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		TxChunks:         c.txChunks.Load(),
		TxAcked:          c.txAcked.Load(),
		Retransmits:      c.retransmits.Load(),
		RxAccepted:       c.rxAccepted.Load(),
		RxDuplicates:     c.rxDuplicates.Load(),
		RxChunkMismatch:  c.rxChunkMismatch.Load(),
		RxStreamMismatch: c.rxStreamMismatch.Load(),
		Unroutable:       c.unroutable.Load(),
		SendErrors:       c.sendErrors.Load(),
	}
}
