package link

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-grbl/grbl"
	"github.com/arloliu/go-grbl/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func testLogger() logger.Logger {
	return logger.NewMockLogger().AllowAll()
}

// fakePort is an in-memory SerialPort fed through a channel.
type fakePort struct {
	mu      sync.Mutex
	written []byte
	readCh  chan []byte
	closeCh chan struct{}
	closed  bool
	resets  int
}

func newFakePort() *fakePort {
	return &fakePort{readCh: make(chan []byte, 8), closeCh: make(chan struct{})}
}

func (f *fakePort) Read(p []byte) (int, error) {
	select {
	case b := <-f.readCh:
		return copy(p, b), nil
	case <-f.closeCh:
		return 0, &serial.PortError{}
	}
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)

	return len(p), nil
}

func (f *fakePort) ResetInputBuffer() error {
	f.resets++
	return nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}

	return nil
}

func TestNewSerialConfig(t *testing.T) {
	cfg, err := NewSerialConfig("/dev/ttyUSB0")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", cfg.PortName())
	assert.Equal(t, DefaultBaudRate, cfg.BaudRate())
	assert.Equal(t, DefaultDataBits, cfg.DataBits())
	assert.Equal(t, serial.NoParity, cfg.Parity())
	assert.Equal(t, serial.OneStopBit, cfg.StopBits())

	cfg, err = NewSerialConfig("COM3",
		WithBaudRate(9600),
		WithDataBits(7),
		WithParity(serial.EvenParity),
		WithStopBits(serial.TwoStopBits),
		WithResetWait(2*time.Second),
		WithSerialLogger(testLogger()),
	)
	require.NoError(t, err)
	assert.Equal(t, 9600, cfg.BaudRate())
	assert.Equal(t, 7, cfg.DataBits())
	assert.Equal(t, serial.EvenParity, cfg.Parity())
	assert.Equal(t, serial.TwoStopBits, cfg.StopBits())
	assert.Equal(t, 2*time.Second, cfg.ResetWait())
}

func TestNewSerialConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		port string
		opt  SerialOption
	}{
		{"empty port", "", nil},
		{"baud", "/dev/ttyACM0", WithBaudRate(12345)},
		{"data bits", "/dev/ttyACM0", WithDataBits(9)},
		{"parity", "/dev/ttyACM0", WithParity(serial.Parity(42))},
		{"stop bits", "/dev/ttyACM0", WithStopBits(serial.StopBits(7))},
		{"reset wait", "/dev/ttyACM0", WithResetWait(time.Minute)},
		{"logger", "/dev/ttyACM0", WithSerialLogger(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []SerialOption
			if tt.opt != nil {
				opts = append(opts, tt.opt)
			}
			_, err := NewSerialConfig(tt.port, opts...)
			require.Error(t, err)
		})
	}
}

func TestSerial_OpenReadWriteClose(t *testing.T) {
	cfg, err := NewSerialConfig("/dev/ttyUSB0", WithSerialLogger(testLogger()))
	require.NoError(t, err)

	port := newFakePort()
	var gotMode *serial.Mode
	s := NewSerialWithOpener(cfg, func(name string, mode *serial.Mode) (SerialPort, error) {
		assert.Equal(t, "/dev/ttyUSB0", name)
		gotMode = mode
		return port, nil
	})

	assert.Equal(t, grbl.PortInfo{Kind: grbl.LinkSerial, Name: "/dev/ttyUSB0", BaudRate: 115200}, s.Info())

	_, err = s.Write([]byte("?"))
	require.ErrorIs(t, err, ErrClosed)

	require.NoError(t, s.Open(context.Background()))
	require.Error(t, s.Open(context.Background()))
	require.NotNil(t, gotMode)
	assert.Equal(t, 115200, gotMode.BaudRate)
	assert.Equal(t, 1, port.resets)

	n, err := s.Write([]byte("G0 X1\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "G0 X1\n", string(port.written))

	port.readCh <- []byte("ok\n")
	buf := make([]byte, 16)
	n, err = s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(buf[:n]))

	readErr := make(chan error, 1)
	go func() {
		_, err := s.Read(buf)
		readErr <- err
	}()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	select {
	case err := <-readErr:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Read")
	}
}

func TestSerial_OpenError(t *testing.T) {
	cfg, err := NewSerialConfig("/dev/missing", WithSerialLogger(testLogger()))
	require.NoError(t, err)

	s := NewSerialWithOpener(cfg, func(string, *serial.Mode) (SerialPort, error) {
		return nil, errors.New("no such file")
	})

	err = s.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/missing")
}

func TestTCPConfig(t *testing.T) {
	cfg, err := ParseTCPAddress("127.0.0.1:23", WithConnectTimeout(time.Second), WithTCPLogger(testLogger()))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:23", cfg.Addr())
	assert.Equal(t, time.Second, cfg.ConnectTimeout())
	assert.Equal(t, DefaultKeepAlive, cfg.KeepAlive())

	cfg, err = NewTCPConfig("grbl.local", 23, WithKeepAlive(-1))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), cfg.KeepAlive())

	_, err = ParseTCPAddress("no-port")
	require.Error(t, err)
	_, err = NewTCPConfig("localhost", 70000)
	require.Error(t, err)
	_, err = NewTCPConfig("", 23)
	require.Error(t, err)
	_, err = NewTCPConfig("localhost", 23, WithConnectTimeout(0))
	require.Error(t, err)
}

func TestTCP_RoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if string(buf[:n]) == "$I\n" {
			_, _ = conn.Write([]byte("[VER:1.1h]\nok\n"))
		}
		_, _ = io.Copy(io.Discard, conn)
	}()

	cfg, err := ParseTCPAddress(ln.Addr().String(), WithTCPLogger(testLogger()))
	require.NoError(t, err)

	l := NewTCP(cfg)
	assert.Equal(t, grbl.LinkTCP, l.Info().Kind)
	require.NoError(t, l.Open(context.Background()))

	_, err = l.Write([]byte("$I\n"))
	require.NoError(t, err)

	var got []byte
	buf := make([]byte, 64)
	for len(got) < len("[VER:1.1h]\nok\n") {
		n, err := l.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "[VER:1.1h]\nok\n", string(got))

	require.NoError(t, l.Close())
	_, err = l.Read(buf)
	require.ErrorIs(t, err, ErrClosed)
}

func TestTCP_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	cfg, err := ParseTCPAddress(addr, WithConnectTimeout(200*time.Millisecond), WithTCPLogger(testLogger()))
	require.NoError(t, err)

	require.Error(t, NewTCP(cfg).Open(context.Background()))
}
