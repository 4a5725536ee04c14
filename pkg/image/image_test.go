package image_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/serialtools/stm32flash/pkg/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRawBinary(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "firmware.bin")
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	segments, err := image.Load(path, 0x08000000)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, uint32(0x08000000), segments[0].Addr)
	assert.Equal(t, data, segments[0].Data)
}

func TestLoadEmptyBinary(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := image.Load(path, 0)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := image.Load(filepath.Join(t.TempDir(), "nope.bin"), 0)
	assert.Error(t, err)
}

func TestHexRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "firmware.hex")
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}

	require.NoError(t, image.Save(path, 0x08000000, data))

	segments, err := image.Load(path, 0)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, uint32(0x08000000), segments[0].Addr)
	assert.Equal(t, data, segments[0].Data)
}

func TestLoadHexRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken.hex")
	require.NoError(t, os.WriteFile(path, []byte("not a hex file"), 0o644))

	_, err := image.Load(path, 0)
	assert.Error(t, err)
}

func TestSaveRawBinary(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dump.bin")
	data := []byte{0xAA, 0xBB}
	require.NoError(t, image.Save(path, 0x08000000, data))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
