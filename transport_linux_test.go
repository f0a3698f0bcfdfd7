//go:build linux

package cereal

import (
	"os"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

// openPtyPort opens a PTY pair standing in for real serial hardware and
// returns a buffered Port on the slave side plus the master for the test to
// drive the "wire".
func openPtyPort(t *testing.T, cfg Config) (*Port, *os.File) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	cfg.Device = slave.Name()
	if cfg.Mode.BaudRate == 0 {
		cfg.Mode.BaudRate = 115200
	}
	port, err := OpenRaw(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })
	return port, master
}

func TestRawPort_BasicRead(t *testing.T) {
	port, master := openPtyPort(t, Config{Timeout: -1, PollInterval: time.Millisecond})

	_, err := master.Write([]byte("hello"))
	require.NoError(t, err)

	got, err := port.Read(5)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestRawPort_WritePassthrough(t *testing.T) {
	port, master := openPtyPort(t, Config{Timeout: -1, PollInterval: time.Millisecond})

	n, err := port.Write([]byte("pong\n"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 16)
	rn, err := master.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "pong\n", string(buf[:rn]))
}

func TestRawPort_ChunkedArrival(t *testing.T) {
	port, master := openPtyPort(t, Config{Timeout: time.Second, PollInterval: time.Millisecond})

	_, err := master.Write([]byte("AB"))
	require.NoError(t, err)
	time.AfterFunc(15*time.Millisecond, func() { master.Write([]byte("CD")) })

	got, err := port.Read(4)
	require.NoError(t, err)
	require.Equal(t, []byte("ABCD"), got)
}

func TestRawPort_ReadLine(t *testing.T) {
	port, master := openPtyPort(t, Config{Timeout: -1, PollInterval: time.Millisecond})

	_, err := master.Write([]byte("ping\r\npartial"))
	require.NoError(t, err)

	line, err := port.ReadLine([]byte("\r\n"))
	require.NoError(t, err)
	require.Equal(t, []byte("ping\r\n"), line)
}

func TestRawPort_DisconnectLatchesError(t *testing.T) {
	port, master := openPtyPort(t, Config{Timeout: 20 * time.Millisecond, PollInterval: time.Millisecond})

	// Simulate device disconnect by closing the master side.
	require.NoError(t, master.Close())

	require.Eventually(t, func() bool {
		_, err := port.Read(1)
		return err != nil
	}, 2*time.Second, 5*time.Millisecond, "disconnect should surface on a later read")
}

func TestRawPort_CloseUnblocksRead(t *testing.T) {
	port, _ := openPtyPort(t, Config{Timeout: -1, PollInterval: time.Millisecond})

	errs := make(chan error, 1)
	go func() {
		_, err := port.Read(10)
		errs <- err
	}()

	// Give the goroutine a chance to block.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, port.Close())

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for read to exit after Close")
	}
}
