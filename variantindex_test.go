package cbgen

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndOpenBGI(t *testing.T) {
	path, offsets := writeHaplotypes(t)

	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	idxPath := filepath.Join(t.TempDir(), "haplotypes.bgen.bgi")
	require.NoError(t, CreateBGI(b, idxPath))

	bgi, err := OpenBGI(idxPath)
	require.NoError(t, err)
	defer bgi.Close()

	require.NotNil(t, bgi.Metadata)
	assert.Equal(t, "haplotypes.bgen", bgi.Metadata.Filename)
	assert.Equal(t, uint64(b.Size), bgi.Metadata.FileSize)
	assert.Len(t, bgi.Metadata.FirstThousandBytes, min(1000, int(b.Size)))

	head := make([]byte, 8)
	f, err := os.Open(path)
	require.NoError(t, err)
	_, err = f.ReadAt(head, 0)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, head, bgi.Metadata.FirstThousandBytes[:8])

	ctx := context.Background()
	rows, err := bgi.Variants(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	vr := b.NewVariantReader()
	for i, row := range rows {
		assert.Equal(t, "1", row.Chromosome)
		assert.Equal(t, uint32(i+1), row.Position)
		assert.Equal(t, uint16(2), row.NAlleles)
		assert.Equal(t, Allele("A"), row.Allele1)
		assert.Equal(t, Allele("G"), row.Allele2)

		// The stored record offset leads back to the genotype block
		v := vr.ReadAt(int64(row.FileStartPosition))
		require.NotNil(t, v, "%v", vr.Error())
		assert.Equal(t, offsets[i], v.Offset)
		assert.Equal(t, v.RecordSize, row.SizeInBytes)
	}

	found, err := bgi.FindRSID(ctx, "RS3")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, uint32(3), found[0].Position)

	found, err = bgi.FindRSID(ctx, "rs_missing")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestBGIErrors(t *testing.T) {
	_, err := OpenBGI(filepath.Join(t.TempDir(), "missing.bgi"))
	assert.ErrorIs(t, err, ErrOpen)

	path, _ := writeHaplotypes(t)
	b, err := Open(path)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "nowhere", "x.bgi")
	assert.ErrorIs(t, CreateBGI(b, dest), ErrIO)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, CreateBGI(b, filepath.Join(t.TempDir(), "closed.bgi")), ErrData)

	assert.Contains(t, []string{"sqlite", "sqlite3"}, WhichSQLiteDriver())
}
