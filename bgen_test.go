package cbgen

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenNonexistent(t *testing.T) {
	b, err := Open("/Fmw/DiKel")
	require.Error(t, err)
	assert.Nil(t, b)
	assert.ErrorIs(t, err, ErrOpen)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOpenHaplotypes(t *testing.T) {
	path, _ := writeHaplotypes(t)

	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, path, b.FilePath)
	assert.Equal(t, 4, b.NumVariants())
	assert.Equal(t, 4, b.NumSamples())
	assert.True(t, b.ContainsSamples())
	assert.Equal(t, Layout2, b.FlagLayout)
	assert.Equal(t, CompressionZLIB, b.FlagCompression)
	assert.Equal(t, "1.2", b.Version())

	samples, err := ReadSamples(b)
	require.NoError(t, err)
	require.Len(t, samples, 4)
	for i, want := range []string{"sample_0", "sample_1", "sample_2", "sample_3"} {
		assert.Equal(t, want, samples[i].String())
	}

	// Repeated reads give the same answer
	ids, err := b.ReadSampleIDs()
	require.NoError(t, err)
	assert.Equal(t, []byte("sample_3"), ids[3])
}

func TestOpenWithoutSamples(t *testing.T) {
	path, _ := writeComplex(t, CompressionZLIB)

	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 10, b.NumVariants())
	assert.Equal(t, 4, b.NumSamples())
	assert.False(t, b.ContainsSamples())

	_, err = ReadSamples(b)
	assert.ErrorIs(t, err, ErrData)
}

func TestVersion(t *testing.T) {
	cases := []struct {
		opts WriterOptions
		want string
	}{
		{WriterOptions{Layout: Layout1, Compression: CompressionDisabled}, "1.1"},
		{WriterOptions{Layout: Layout1, Compression: CompressionZLIB}, "1.1"},
		{WriterOptions{Layout: Layout2, Compression: CompressionDisabled}, "1.2"},
		{WriterOptions{Layout: Layout2, Compression: CompressionZLIB}, "1.2"},
		{WriterOptions{Layout: Layout2, Compression: CompressionZStandard}, "1.3"},
	}

	for _, c := range cases {
		t.Run(c.want+"/"+c.opts.Compression.String(), func(t *testing.T) {
			path, _ := writeTestBGEN(t, "v.bgen", c.opts, nil)
			b, err := Open(path)
			require.NoError(t, err)
			defer b.Close()

			assert.Equal(t, c.want, b.Version())
			assert.Equal(t, 0, b.NumVariants())
			assert.Nil(t, b.NewVariantReader().Read())
		})
	}
}

func TestOpenRejectsBadHeaders(t *testing.T) {
	path, _ := writeHaplotypes(t)
	good, err := os.ReadFile(path)
	require.NoError(t, err)

	corrupt := func(name string, mutate func([]byte) []byte) {
		t.Run(name, func(t *testing.T) {
			data := mutate(append([]byte(nil), good...))
			bad := filepath.Join(t.TempDir(), "bad.bgen")
			require.NoError(t, os.WriteFile(bad, data, 0o644))

			b, err := Open(bad)
			assert.Nil(t, b)
			assert.ErrorIs(t, err, ErrOpen)
		})
	}

	corrupt("short", func(d []byte) []byte { return d[:10] })
	corrupt("magic", func(d []byte) []byte { copy(d[offsetMagicNumber:], "nope"); return d })
	corrupt("header length", func(d []byte) []byte { d[offsetHeaderLength] = 3; return d })
	corrupt("layout", func(d []byte) []byte {
		// flags sit at offset 4 + 20 - 4 with no free data
		d[20] = byte(CompressionZLIB) | 7<<2
		return d
	})
	corrupt("compression", func(d []byte) []byte { d[20] = 3 | byte(Layout2)<<2; return d })
}

func TestOpenAcceptsZeroMagic(t *testing.T) {
	path, _ := writeHaplotypes(t)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	copy(data[offsetMagicNumber:], []byte{0, 0, 0, 0})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	b, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 4, b.NumVariants())
	require.NoError(t, b.Close())
}

func TestCloseTwice(t *testing.T) {
	path, offsets := writeHaplotypes(t)

	b, err := Open(path)
	require.NoError(t, err)

	g, err := b.OpenGenotype(offsets[0])
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err = b.ReadGenotype(offsets[0], Precision64)
	assert.ErrorIs(t, err, ErrData)

	_, err = g.Read64()
	assert.ErrorIs(t, err, ErrData)

	_, err = b.ReadSampleIDs()
	assert.ErrorIs(t, err, ErrData)

	vr := b.NewVariantReader()
	assert.Nil(t, vr.Read())
	assert.True(t, errors.Is(vr.Error(), ErrData))
}
