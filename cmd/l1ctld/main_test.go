package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sickwell/osmocom-bb-raw/internal/config"
	"github.com/sickwell/osmocom-bb-raw/internal/msgb"
	"github.com/sickwell/osmocom-bb-raw/internal/protocol"
	"github.com/sickwell/osmocom-bb-raw/internal/sercomm"
)

func TestConsoleHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	pool, err := msgb.NewPool(2, 64)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	handler := consoleHandler(logger)
	for _, line := range []string{"Assert failed in l1a\r\n", "\r\n"} {
		msg, err := pool.FromBytes([]byte(line), "console")
		if err != nil {
			t.Fatalf("FromBytes failed: %v", err)
		}
		handler(msg)
	}

	if pool.InUse() != 0 {
		t.Errorf("Expected all buffers released, %d in use", pool.InUse())
	}
	out := buf.String()
	if !strings.Contains(out, `line="Assert failed in l1a"`) {
		t.Errorf("Console line not logged: %s", out)
	}
	if strings.Count(out, "Firmware console") != 1 {
		t.Errorf("Blank lines must not be logged: %s", out)
	}
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.LoggingConfig
		debug bool
	}{
		{"default level", config.LoggingConfig{Format: "text", Output: "stdout"}, false},
		{"debug json", config.LoggingConfig{Level: "debug", Format: "json", Output: "stderr"}, true},
		{"rotated file", config.LoggingConfig{Level: "warn", Output: filepath.Join(t.TempDir(), "l1ctld.log"), MaxSizeMB: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := initLogger(tt.cfg)
			if logger == nil {
				t.Fatal("Expected a logger")
			}
			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.debug {
				t.Errorf("Debug enabled = %v, want %v", got, tt.debug)
			}
		})
	}
}

// daemon is a running service with a UDP peer standing in for layer 2/3
type daemon struct {
	peer   *net.UDPConn
	addr   *net.UDPAddr
	cancel context.CancelFunc
	done   chan error
}

func startDaemon(t *testing.T, poolSize int) *daemon {
	t.Helper()

	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to open peer socket: %v", err)
	}
	t.Cleanup(func() { peer.Close() })

	// reserve a port for the service
	reserved, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to reserve a port: %v", err)
	}
	addr := reserved.LocalAddr().(*net.UDPAddr)
	reserved.Close()

	cfg := &config.Config{
		Transport: config.TransportConfig{
			Type: "udp",
			UDP: config.UDPConfig{
				Port:          addr.Port,
				BindAddress:   "127.0.0.1",
				RemoteAddress: peer.LocalAddr().String(),
				BufferSize:    4096,
				QueueSize:     16,
			},
		},
		HTTP:    config.HTTPConfig{Enabled: false},
		Sim:     config.SimConfig{FrameDuration: 4.615, FBSBDelayFrames: 3, SignalLevel: -60, PMBatchSize: 2},
		Buffers: config.BuffersConfig{PoolSize: poolSize, BufferSize: 256},
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &daemon{peer: peer, addr: addr, cancel: cancel, done: make(chan error, 1)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() {
		d.done <- run(ctx, cfg, logger)
	}()
	t.Cleanup(cancel)

	return d
}

func (d *daemon) send(t *testing.T, dlci uint8, payload []byte) {
	t.Helper()
	datagram := append([]byte{dlci}, payload...)
	if _, err := d.peer.WriteToUDP(datagram, d.addr); err != nil {
		t.Fatalf("Failed to send datagram: %v", err)
	}
}

func (d *daemon) receive(t *testing.T) (uint8, []byte) {
	t.Helper()
	buf := make([]byte, 512)
	d.peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, _, err := d.peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("No datagram from the service: %v", err)
	}
	if n < 1 {
		t.Fatal("Empty datagram")
	}
	return buf[0], buf[1:n]
}

// receiveL1CTL reads one L1CTL message and checks its type
func (d *daemon) receiveL1CTL(t *testing.T, want protocol.MessageType) []byte {
	t.Helper()
	dlci, payload := d.receive(t)
	if dlci != sercomm.DLCIL1AL23 {
		t.Fatalf("Expected DLCI %d, got %d", sercomm.DLCIL1AL23, dlci)
	}
	hdr, err := protocol.ParseHeader(payload)
	if err != nil {
		t.Fatalf("Invalid L1CTL message % x: %v", payload, err)
	}
	if hdr.MsgType != want {
		t.Fatalf("Expected %s, got %s", want, hdr.MsgType)
	}
	return payload[protocol.HeaderSize:]
}

func (d *daemon) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-d.done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Service did not stop")
		return nil
	}
}

func resetRequest(resetType uint8) []byte {
	return protocol.AppendReset(protocol.AppendHeader(nil, protocol.MsgResetReq, 0), protocol.Reset{Type: resetType})
}

func TestRunAnswersOverUDP(t *testing.T) {
	d := startDaemon(t, 16)

	boot := d.receiveL1CTL(t, protocol.MsgResetInd)
	if len(boot) < 1 || boot[0] != protocol.ResetBoot {
		t.Errorf("Expected boot reset indication, got % x", boot)
	}

	d.send(t, sercomm.DLCIL1AL23, resetRequest(protocol.ResetFull))
	conf := d.receiveL1CTL(t, protocol.MsgResetConf)
	if len(conf) < 1 || conf[0] != protocol.ResetFull {
		t.Errorf("Expected full reset confirmation, got % x", conf)
	}

	d.send(t, sercomm.DLCIEcho, []byte("ping"))
	if dlci, payload := d.receive(t); dlci != sercomm.DLCIEcho || string(payload) != "ping" {
		t.Errorf("Expected echo of ping, got dlci %d %q", dlci, payload)
	}

	d.cancel()
	if err := d.wait(t); err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
}

func TestRunStopsOnBufferExhaustion(t *testing.T) {
	// the inbound request holds the only buffer, so its confirmation cannot be built
	d := startDaemon(t, 1)
	d.receiveL1CTL(t, protocol.MsgResetInd)

	d.send(t, sercomm.DLCIL1AL23, resetRequest(protocol.ResetFull))

	err := d.wait(t)
	if !errors.Is(err, msgb.ErrOutOfBuffers) {
		t.Errorf("Expected ErrOutOfBuffers, got %v", err)
	}
}
