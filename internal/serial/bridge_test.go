package serial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S5: bytes 0x00..0xFF written to master-A appear unaltered on
// master-B within 100ms, and vice versa.
func TestBridgeForwardsBytesBothWays(t *testing.T) {
	raw := &Termios{}
	raw.MakeRaw()

	masterA, slaveA, _, err := OpenPTY(raw, nil)
	if err != nil {
		t.Skipf("cannot allocate a PTY pair in this environment: %v", err)
	}
	slaveA.Close()
	masterB, slaveB, _, err := OpenPTY(raw, nil)
	require.NoError(t, err)
	slaveB.Close()

	br := NewBridge(masterA, masterB)
	br.Start()
	defer br.Stop()

	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}

	appA, err := Open(mustPTSName(t, masterA), NewOptions())
	require.NoError(t, err)
	defer appA.Close()
	appB, err := Open(mustPTSName(t, masterB), NewOptions())
	require.NoError(t, err)
	defer appB.Close()

	n, err := appA.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	got := readWithDeadline(t, appB, len(payload), 100*time.Millisecond)
	assert.Equal(t, payload, got)

	n, err = appB.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	got = readWithDeadline(t, appA, len(payload), 100*time.Millisecond)
	assert.Equal(t, payload, got)
}

func mustPTSName(t *testing.T, master *Port) string {
	t.Helper()
	name, err := master.PTSName()
	require.NoError(t, err)
	return name
}

func readWithDeadline(t *testing.T, p *Port, want int, timeout time.Duration) []byte {
	t.Helper()
	p.SetReadTimeout(timeout)
	buf := make([]byte, want)
	total := 0
	deadline := time.Now().Add(timeout)
	for total < want && time.Now().Before(deadline) {
		n, err := p.Read(buf[total:])
		if err != nil {
			break
		}
		total += n
	}
	return buf[:total]
}
