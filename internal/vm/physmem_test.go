package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyToFromVMRoundTrip(t *testing.T) {
	v := New("pm1", t.TempDir())
	dev := ramDevice("ram", 0x1000, 0x2000)
	require.NoError(t, v.Bind(dev))

	in := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02}
	v.CopyToVM(0x1004, in)

	out := make([]byte, len(in))
	v.CopyFromVM(0x1004, out)
	assert.Equal(t, in, out)
}

func TestCopyFromVMUnmappedReadsZero(t *testing.T) {
	v := New("pm2", t.TempDir())
	require.NoError(t, v.Bind(ramDevice("ram", 0x1000, 0x1000)))

	out := []byte{0xff, 0xff, 0xff}
	v.CopyFromVM(0x5000, out)
	assert.Equal(t, []byte{0, 0, 0}, out)
}

func TestCopyToVMUnmappedIsDropped(t *testing.T) {
	v := New("pm3", t.TempDir())
	require.NotPanics(t, func() {
		v.CopyToVM(0x9000, []byte{1, 2, 3})
	})
}

func TestCopySpanningDeviceAndHoleSplitsCorrectly(t *testing.T) {
	v := New("pm4", t.TempDir())
	require.NoError(t, v.Bind(ramDevice("ram", 0x1000, 0x10)))

	buf := make([]byte, 0x20)
	for i := range buf {
		buf[i] = 0xAA
	}
	v.CopyToVM(0x1008, buf)

	out := make([]byte, 0x20)
	v.CopyFromVM(0x1008, out)

	// First 8 bytes land inside the device and stick; the rest spill
	// past its end into unmapped space and read back as zero.
	for i := 0; i < 8; i++ {
		assert.Equal(t, byte(0xAA), out[i], "offset %d", i)
	}
	for i := 8; i < len(out); i++ {
		assert.Equal(t, byte(0), out[i], "offset %d", i)
	}
}

func TestCopyU32RoundTripBigEndian(t *testing.T) {
	v := New("pm5", t.TempDir())
	require.NoError(t, v.Bind(ramDevice("ram", 0x1000, 0x1000)))

	v.CopyU32ToVM(0x1000, 0xCAFEBABE)
	assert.Equal(t, uint32(0xCAFEBABE), v.CopyU32FromVM(0x1000))

	// Big-endian guest order means the first host byte is the MSB.
	raw := make([]byte, 4)
	v.CopyFromVM(0x1000, raw)
	assert.Equal(t, byte(0xCA), raw[0])
}

func TestCopyU16RoundTrip(t *testing.T) {
	v := New("pm6", t.TempDir())
	require.NoError(t, v.Bind(ramDevice("ram", 0x1000, 0x1000)))

	v.CopyU16ToVM(0x1000, 0xBEEF)
	assert.Equal(t, uint16(0xBEEF), v.CopyU16FromVM(0x1000))
}

func TestDMATransferBetweenDevices(t *testing.T) {
	v := New("pm7", t.TempDir())
	src := ramDevice("src", 0x1000, 0x100)
	dst := ramDevice("dst", 0x2000, 0x100)
	require.NoError(t, v.Bind(src))
	require.NoError(t, v.Bind(dst))

	v.CopyToVM(0x1000, []byte{1, 2, 3, 4, 5})
	v.DMATransfer(0x1000, 0x2000, 5)

	out := make([]byte, 5)
	v.CopyFromVM(0x2000, out)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, out)
}

func TestDMATransferUnmappedSourceIsNoop(t *testing.T) {
	v := New("pm8", t.TempDir())
	require.NoError(t, v.Bind(ramDevice("dst", 0x2000, 0x100)))

	require.NotPanics(t, func() {
		v.DMATransfer(0x9000, 0x2000, 4)
	})
	out := make([]byte, 4)
	v.CopyFromVM(0x2000, out)
	assert.Equal(t, []byte{0, 0, 0, 0}, out)
}

func TestStrlenStopsAtNUL(t *testing.T) {
	v := New("pm9", t.TempDir())
	require.NoError(t, v.Bind(ramDevice("ram", 0x1000, 0x100)))

	v.CopyToVM(0x1000, append([]byte("hello"), 0))
	assert.Equal(t, 5, v.Strlen(0x1000))
}

func TestStrlenUnmappedIsZero(t *testing.T) {
	v := New("pm10", t.TempDir())
	assert.Equal(t, 0, v.Strlen(0x1000))
}
