package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"

	"github.com/LoveWonYoung/robobus/driver"
	"github.com/LoveWonYoung/robobus/hexfile"
	"github.com/LoveWonYoung/robobus/logrecorder"
	"github.com/LoveWonYoung/robobus/node"
	"github.com/LoveWonYoung/robobus/robobus"
)

const (
	defaultSendTimeout = 5 * time.Second
	defaultPushTimeout = 5 * time.Minute
)

// environment is the state shared by every command of one invocation.
type environment struct {
	cfg    *Config
	rec    *logrecorder.Recorder
	logger *zap.SugaredLogger
}

func (e *environment) before(c *cli.Context) error {
	cfg := &Config{}
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = ReadConfig(path); err != nil {
			return err
		}
	}
	applyFlags(c, cfg)
	cfg.populateDefaults()

	rec, err := logrecorder.NewRecorder(cfg.recorderConfig())
	if err != nil {
		return errors.Wrap(err, "failed to set up logging")
	}
	e.cfg, e.rec, e.logger = cfg, rec, rec.Logger
	return nil
}

func (e *environment) after(c *cli.Context) error {
	if e.rec == nil {
		return nil
	}
	return e.rec.Close()
}

// applyFlags overrides file settings with the flags given on the command line.
func applyFlags(c *cli.Context, cfg *Config) {
	intPtr := func(name string) *int {
		v := c.Int(name)
		return &v
	}
	if c.IsSet(flagDebug) {
		cfg.Log.Debug = c.Bool(flagDebug)
	}
	if c.IsSet(flagLogFile) {
		cfg.Log.File = c.String(flagLogFile)
	}
	if c.IsSet(flagLocal) {
		cfg.LocalID = intPtr(flagLocal)
	}
	if c.IsSet(flagRemote) {
		cfg.RemoteID = intPtr(flagRemote)
	}
	if c.IsSet(flagRole) {
		cfg.Role = c.String(flagRole)
	}
	if c.IsSet(flagPipe) {
		cfg.Pipe = intPtr(flagPipe)
	}
	if c.IsSet(flagBus) {
		cfg.Bus.Type = c.String(flagBus)
	}
	if c.IsSet(flagChannel) {
		cfg.Bus.Channel = c.String(flagChannel)
	}
	if c.IsSet(flagBitrate) {
		cfg.Bus.Bitrate = c.Int(flagBitrate)
	}
}

func (e *environment) linkConfig() (*Config, error) {
	if err := e.cfg.Validate("robobus"); err != nil {
		return nil, err
	}
	return e.cfg, nil
}

// openNode starts a node on the configured hardware bus.
func (e *environment) openNode() (*node.Node, error) {
	cfg, err := e.linkConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Bus.Type == busVirtual {
		return nil, errors.New("the virtual bus is only available to the loopback command")
	}
	dev, err := driver.NewDriver(cfg.Bus.Type, cfg.driverOptions(), e.logger.Named("driver"))
	if err != nil {
		return nil, err
	}
	adapter, err := driver.NewAdapter(dev, e.logger.Named("driver"))
	if err != nil {
		return nil, err
	}
	n, err := node.New(adapter, cfg.channels(), node.Options{Config: cfg.streamConfig(), CloseBus: true}, e.logger.Named("node"))
	if err != nil {
		return nil, multierr.Combine(err, adapter.Close())
	}
	return n, nil
}

func printStats(w io.Writer, name string, s robobus.Stats) {
	fmt.Fprintf(w, "%s: tx chunks=%d acked=%d retransmits=%d send errors=%d\n",
		name, s.TxChunks, s.TxAcked, s.Retransmits, s.SendErrors)
	fmt.Fprintf(w, "%s: rx accepted=%d duplicates=%d chunk mismatch=%d stream mismatch=%d unroutable=%d\n",
		name, s.RxAccepted, s.RxDuplicates, s.RxChunkMismatch, s.RxStreamMismatch, s.Unroutable)
}

func (e *environment) channelsAction(c *cli.Context) error {
	cfg, err := e.linkConfig()
	if err != nil {
		return err
	}
	ch := cfg.channels()
	w := c.App.Writer
	for _, row := range []struct {
		name string
		id   robobus.MessageID
	}{
		{"tx ctrl", ch.TxCtrl},
		{"rx ctrl", ch.RxCtrl},
		{"tx data", ch.TxData},
		{"rx data", ch.RxData},
	} {
		fmt.Fprintf(w, "%-8s 0x%08X  %s\n", row.name, row.id.Bits(), row.id)
	}
	return nil
}

func (e *environment) decodeIDAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("decode-id takes exactly one hex id")
	}
	raw := strings.TrimPrefix(strings.ToLower(c.Args().First()), "0x")
	bits, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return errors.Wrapf(err, "invalid id %q", c.Args().First())
	}
	id, err := robobus.NewMessageID(uint32(bits))
	if err != nil {
		return err
	}

	w := c.App.Writer
	sender, _ := id.SenderDeviceID()
	fmt.Fprintf(w, "id:       0x%08X\n", id.Bits())
	fmt.Fprintf(w, "version:  %d\n", id.Version())
	fmt.Fprintf(w, "class:    %s\n", id.MessageType())
	fmt.Fprintf(w, "sender:   %s\n", sender)
	if receiver, ok := id.ReceiverDeviceID(); ok {
		fmt.Fprintf(w, "receiver: %s\n", receiver)
	}
	if pipe, ok := id.P2PPipeID(); ok {
		fmt.Fprintf(w, "pipe:     %d\n", pipe)
	}
	if session, ok := id.MulticastSessionID(); ok {
		fmt.Fprintf(w, "session:  %d\n", session)
	}
	if marker, ok := id.DataCtrlMarker(); ok {
		fmt.Fprintf(w, "marker:   %s\n", marker)
	}
	return nil
}

func (e *environment) listenAction(c *cli.Context) error {
	n, err := e.openNode()
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(n.Close)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var asm *hexfile.Assembler
	hexOut := c.String(flagHexOut)
	if hexOut != "" {
		asm = &hexfile.Assembler{}
	}

	w := c.App.Writer
	for {
		select {
		case <-ctx.Done():
			printStats(w, "listen", n.Stats())
			return nil
		case data, ok := <-n.Received():
			if !ok {
				return nil
			}
			fmt.Fprintf(w, "% X\n", data)
			if asm == nil {
				continue
			}
			if err := asm.Feed(data); err != nil {
				e.logger.Warnw("discarding partial image", "error", err)
				asm = &hexfile.Assembler{}
				continue
			}
			if asm.Complete() {
				if err := writeImage(hexOut, asm.Image()); err != nil {
					return err
				}
				e.logger.Infow("image updated", "file", hexOut, "size", asm.Image().Size())
			}
		}
	}
}

func writeImage(path string, img hexfile.Image) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return img.WriteHex(f)
}

func (e *environment) sendAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("send needs at least one hex byte string")
	}
	raw := strings.NewReplacer(" ", "", ":", "").Replace(strings.Join(c.Args().Slice(), ""))
	data, err := hex.DecodeString(raw)
	if err != nil {
		return errors.Wrap(err, "invalid hex payload")
	}
	if len(data) == 0 {
		return errors.New("payload is empty")
	}

	n, err := e.openNode()
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(n.Close)

	ctx, cancel := context.WithTimeout(c.Context, c.Duration(flagTimeout))
	defer cancel()
	if err := n.Push(ctx, data); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "sent %d bytes in %d chunks\n", len(data), len(robobus.SplitBlock(data, robobus.MaxPayloadSize)))
	return nil
}

func (e *environment) pushAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("push takes exactly one hex file")
	}
	img, err := hexfile.LoadFile(c.Args().First())
	if err != nil {
		return err
	}

	n, err := e.openNode()
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(n.Close)

	ctx, cancel := context.WithTimeout(c.Context, c.Duration(flagTimeout))
	defer cancel()
	start := time.Now()
	if err := hexfile.Stream(ctx, n, img, e.logger.Named("push")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "pushed %d bytes in %d segments in %v\n", img.Size(), len(img.Segments), time.Since(start).Round(time.Millisecond))
	printStats(c.App.Writer, "push", n.Stats())
	return nil
}

// loopbackAction sends random payloads between two nodes sharing a VirtualBus and
// checks each one arrives exactly once and in order.
func (e *environment) loopbackAction(c *cli.Context) error {
	count := c.Int(flagCount)
	loss := c.Float64(flagLoss)
	if count <= 0 {
		return errors.Errorf("count must be positive, got %d", count)
	}
	if loss < 0 || loss >= 1 {
		return errors.Errorf("loss must be in [0, 1), got %v", loss)
	}

	rng := rand.New(rand.NewSource(c.Int64(flagSeed))) //nolint:gosec
	payloads := make([][]byte, count)
	for i := range payloads {
		p := make([]byte, 1+rng.Intn(robobus.MaxPayloadSize))
		rng.Read(p)
		payloads[i] = p
	}

	bus := driver.NewVirtualBus(e.logger.Named("bus"))
	bus.SetAutoDeliver(true)
	if loss > 0 {
		var mu sync.Mutex
		bus.SetFault(func(string, robobus.CanMessage) bool {
			mu.Lock()
			defer mu.Unlock()
			return rng.Float64() < loss
		})
	}

	opts := node.Options{Config: e.cfg.streamConfig()}
	server, err := node.New(bus.Endpoint("server"), robobus.ControlChannels(0, 1, robobus.RoleServer), opts, e.logger.Named("server"))
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(server.Close)
	client, err := node.New(bus.Endpoint("client"), robobus.ControlChannels(1, 0, robobus.RoleClient), opts, e.logger.Named("client"))
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(client.Close)

	ctx, cancel := context.WithTimeout(c.Context, c.Duration(flagTimeout))
	defer cancel()
	start := time.Now()
	for i, p := range payloads {
		if err := server.Send(ctx, p); err != nil {
			return errors.Wrapf(err, "payload %d", i)
		}
		// acceptance precedes the acknowledgment, so the payload is already queued
		select {
		case got := <-client.Received():
			if !bytes.Equal(got, p) {
				return errors.Errorf("payload %d: got % X, want % X", i, got, p)
			}
		default:
			return errors.Errorf("payload %d acknowledged but not delivered", i)
		}
	}
	select {
	case extra := <-client.Received():
		return errors.Errorf("unexpected extra payload % X", extra)
	default:
	}

	w := c.App.Writer
	fmt.Fprintf(w, "delivered %d payloads exactly once in %v, %d of %d frames dropped\n",
		count, time.Since(start).Round(time.Millisecond), bus.Dropped(), len(bus.WriteLog()))
	printStats(w, "server", server.Stats())
	printStats(w, "client", client.Stats())
	return nil
}
