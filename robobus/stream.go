package robobus

import (
	"time"

	"go.uber.org/zap"

	"github.com/LoveWonYoung/robobus/signal"
)

// ControlStreamCore is the protocol state machine of one link.
//
// Outbound, at most one chunk is in flight: FeedTxData moves the stream from Idle to
// Pending and a ctrl record from the peer echoing our sequence number and stream digest
// moves it back. Inbound, a buffered chunk is accepted once the peer's latest ctrl
// record vouches for both its chunk digest and the resulting stream digest.
//
// Reliability comes only from re-announcement: the pending data and our ctrl record are
// resent every RetryTimeout through MultiUpdatable, and the receiver stays idempotent by
// ignoring anything its committed stream digest already covers.
//
// All methods must be called from a single goroutine.
type ControlStreamCore struct {
	cfg    Config
	logger *zap.SugaredLogger

	txCtrl  *MultiUpdatable[ControlData]
	txData  *MultiUpdatable[[]byte]
	local   ControlData
	pending bool

	rxCtrl    ControlData
	hasRxCtrl bool
	rxBuf     [MaxPayloadSize]byte
	rxLen     int
	hasRxData bool
	rxStream  Digest

	dataAccepted *signal.Signal[[]byte]
	txEmpty      *signal.Signal[uint8]

	stats counters
}

// NewControlStreamCore returns an Idle stream. A nil logger disables logging.
func NewControlStreamCore(cfg Config, logger *zap.SugaredLogger) (*ControlStreamCore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	local := initialControlData()
	return &ControlStreamCore{
		cfg:          cfg,
		logger:       logger,
		txCtrl:       NewMultiUpdatableWith(cfg.RetryTimeout, local),
		txData:       NewMultiUpdatable[[]byte](cfg.RetryTimeout),
		local:        local,
		rxStream:     SeedDigest,
		dataAccepted: signal.New[[]byte](),
		txEmpty:      signal.New[uint8](),
	}, nil
}

// FeedTxData queues payload as the next chunk and announces it immediately.
func (c *ControlStreamCore) FeedTxData(payload []byte) error {
	if c.pending {
		return TxPendingError{Seq: c.local.Seq}
	}
	if len(payload) > MaxPayloadSize {
		return PayloadTooLargeError{Size: len(payload)}
	}
	if len(payload) == 0 {
		return EmptyPayloadError{}
	}

	data := append([]byte(nil), payload...)
	c.local.Seq++
	c.local.ChunkSum = FromData(data)
	c.local.StreamSum = c.local.StreamSum.CopyAndAppend(data)
	c.pending = true
	c.stats.txChunks.Inc()
	c.logger.Debugw("chunk queued", "seq", c.local.Seq, "size", len(data), "chunk", c.local.ChunkSum, "stream", c.local.StreamSum)

	c.txData.Update(data)
	c.txCtrl.Update(c.local)
	return nil
}

// FeedRxData buffers a received data frame and tries to accept it.
func (c *ControlStreamCore) FeedRxData(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return PayloadTooLargeError{Size: len(payload)}
	}
	c.rxLen = copy(c.rxBuf[:], payload)
	c.hasRxData = true
	c.tryAccept()
	return nil
}

// FeedRxCtrl handles a ctrl record from the peer: it may acknowledge our pending chunk
// and it becomes the acceptance criterion for inbound data.
func (c *ControlStreamCore) FeedRxCtrl(frame []byte) error {
	peer, err := DecodeControlData(frame)
	if err != nil {
		return err
	}

	if c.pending && peer.AckSeq == c.local.Seq && peer.AckSum == c.local.StreamSum {
		c.pending = false
		c.txData.Reset()
		c.stats.txAcked.Inc()
		c.logger.Debugw("chunk acknowledged", "seq", c.local.Seq)
		c.txEmpty.Fire(c.local.Seq)
	}

	c.rxCtrl = peer
	c.hasRxCtrl = true
	c.tryAccept()
	return nil
}

func (c *ControlStreamCore) tryAccept() {
	if !c.hasRxData || !c.hasRxCtrl {
		return
	}
	peer := c.rxCtrl
	payload := c.rxBuf[:c.rxLen]
	// peer record still describes the chunk we accepted last
	stale := peer.Seq == c.local.AckSeq && peer.StreamSum == c.rxStream

	if FromData(payload) != peer.ChunkSum {
		if stale {
			// data overtook its ctrl record; keep it buffered
			return
		}
		c.stats.rxChunkMismatch.Inc()
		c.logger.Debugw("chunk digest mismatch", "seq", peer.Seq, "want", peer.ChunkSum, "got", FromData(payload))
		return
	}
	if stale {
		c.hasRxData = false
		c.stats.rxDuplicates.Inc()
		return
	}

	next := c.rxStream.CopyAndAppend(payload)
	if next != peer.StreamSum {
		c.hasRxData = false
		c.stats.rxStreamMismatch.Inc()
		c.logger.Warnw("stream digest mismatch, dropping", "seq", peer.Seq, "want", peer.StreamSum, "got", next)
		return
	}

	c.rxStream = next
	c.hasRxData = false
	c.local.AckSeq = peer.Seq
	c.local.AckSum = next
	c.stats.rxAccepted.Inc()
	c.logger.Debugw("chunk accepted", "seq", peer.Seq, "size", len(payload), "stream", next)

	c.dataAccepted.Fire(append([]byte(nil), payload...))
	c.txCtrl.Update(c.local)
}

// Tick advances the retry timers. Pending data and, once it has been announced, the ctrl
// record are re-sent every RetryTimeout. The ctrl record is never reset: it doubles as
// the heartbeat that repairs a lost echo.
func (c *ControlStreamCore) Tick(dt time.Duration) {
	before := c.txData.Refires()
	c.txCtrl.Tick(dt)
	c.txData.Tick(dt)
	if n := c.txData.Refires() - before; n > 0 {
		c.stats.retransmits.Add(n)
	}
}

// Pending reports whether an outbound chunk awaits acknowledgment.
func (c *ControlStreamCore) Pending() bool {
	return c.pending
}

// Local returns the ctrl record this side announces.
func (c *ControlStreamCore) Local() ControlData {
	return c.local
}

// RxStream returns the committed digest over every accepted inbound chunk.
func (c *ControlStreamCore) RxStream() Digest {
	return c.rxStream
}

func (c *ControlStreamCore) Stats() Stats {
	return c.stats.snapshot()
}

// TxCtrl fires every ctrl record that must go out on the ctrl channel.
func (c *ControlStreamCore) TxCtrl() signal.Rx[ControlData] {
	return c.txCtrl.Updated()
}

// TxData fires every data frame that must go out on the data channel.
func (c *ControlStreamCore) TxData() signal.Rx[[]byte] {
	return c.txData.Updated()
}

// DataAccepted fires once per accepted inbound chunk.
func (c *ControlStreamCore) DataAccepted() signal.Rx[[]byte] {
	return c.dataAccepted.Rx()
}

// TxEmpty fires with the acknowledged sequence number; FeedTxData may be called again.
func (c *ControlStreamCore) TxEmpty() signal.Rx[uint8] {
	return c.txEmpty.Rx()
}

// Close disconnects every subscriber.
func (c *ControlStreamCore) Close() {
	c.txCtrl.close()
	c.txData.close()
	c.dataAccepted.Close()
	c.txEmpty.Close()
}
