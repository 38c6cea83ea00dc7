package cbgen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/carbocation/pfx"
	"github.com/google/renameio/v2"
	"github.com/jmoiron/sqlx"
)

// BGIIndex is an open bgenix-style .bgi index.
type BGIIndex struct {
	Path     string
	DB       *sqlx.DB
	Metadata *BGIMetadata
}

func (b *BGIIndex) Close() error {
	return b.DB.Close()
}

// WhichSQLiteDriver names the database/sql driver behind OpenBGI: "sqlite3"
// when built with cgo, "sqlite" otherwise.
func WhichSQLiteDriver() string {
	return whichSQLiteDriver
}

func connectBGI(path string) (*sqlx.DB, error) {
	// URI filenames have to begin with 'file:'; see
	// https://www.sqlite.org/c3ref/open.html . It seems that sqlite3 permitted
	// URI filenames without the file: prefix, but that is not standard.
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}

	db, err := sqlx.Connect(whichSQLiteDriver, path)
	if err != nil {
		return nil, err
	}

	if err := setPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// OpenBGI opens an existing index. A missing file fails with ErrOpen rather
// than creating an empty database.
func OpenBGI(path string) (*BGIIndex, error) {
	const op = "open bgi"
	if _, err := os.Stat(strings.TrimPrefix(path, "file:")); err != nil {
		return nil, newError(KindOpen, op, path, err)
	}

	db, err := connectBGI(path)
	if err != nil {
		return nil, newError(KindOpen, op, path, pfx.Err(err))
	}

	bgi := &BGIIndex{
		Path:     path,
		DB:       db,
		Metadata: &BGIMetadata{},
	}

	// Not all index files have metadata; ignore any error
	if err := bgi.DB.Get(bgi.Metadata, "SELECT * FROM Metadata LIMIT 1"); err != nil {
		bgi.Metadata = nil
	}

	return bgi, nil
}

// VariantIndex conforms to the data found in the rows of the SQLite table
// "Variant" from BGEN Index (.bgi) files, and can be easily parsed with sqlx.
type VariantIndex struct {
	Chromosome        string
	Position          uint32
	RSID              string `db:"rsid"`
	NAlleles          uint16 `db:"number_of_alleles"`
	Allele1           Allele
	Allele2           Allele
	FileStartPosition uint64 `db:"file_start_position"`
	SizeInBytes       uint64 `db:"size_in_bytes"`
}

// BGIMetadata conforms to the data found in the rows of the SQLite table
// "Metadata" from more recent versions of BGEN.
type BGIMetadata struct {
	Filename           string
	FileSize           uint64 `db:"file_size"`
	LastWriteTime      Time   `db:"last_write_time"`
	FirstThousandBytes []byte `db:"first_1000_bytes"`
	IndexCreationTime  Time   `db:"index_creation_time"`
}

// Variants returns every indexed variant in chromosome and position order.
func (b *BGIIndex) Variants(ctx context.Context) ([]VariantIndex, error) {
	var out []VariantIndex
	if err := b.DB.SelectContext(ctx, &out, "SELECT * FROM Variant ORDER BY chromosome ASC, position ASC"); err != nil {
		return nil, newError(KindData, "bgi variants", b.Path, pfx.Err(err))
	}
	return out, nil
}

// FindRSID returns the indexed variants carrying rsid; usually zero or one.
func (b *BGIIndex) FindRSID(ctx context.Context, rsid string) ([]VariantIndex, error) {
	var out []VariantIndex
	if err := b.DB.SelectContext(ctx, &out, "SELECT * FROM Variant WHERE rsid = ? ORDER BY file_start_position ASC", rsid); err != nil {
		return nil, newError(KindData, "bgi find rsid", b.Path, pfx.Err(err))
	}
	return out, nil
}

const bgiSchema = `
CREATE TABLE Variant (
  chromosome TEXT NOT NULL,
  position INT NOT NULL,
  rsid TEXT NOT NULL,
  number_of_alleles INT NOT NULL,
  allele1 TEXT NOT NULL,
  allele2 TEXT NULL,
  file_start_position INT NOT NULL,
  size_in_bytes INT NOT NULL,
  PRIMARY KEY (chromosome, position, rsid, allele1, allele2, file_start_position)
) WITHOUT ROWID;

CREATE TABLE Metadata (
  filename TEXT NOT NULL,
  file_size INT NOT NULL,
  last_write_time INT NOT NULL,
  first_1000_bytes BLOB NOT NULL,
  index_creation_time INT NOT NULL
);
`

const bgiFirstBytes = 1000

// CreateBGI scans b and writes a .bgi index of its variant records to path.
// The file appears atomically once every row is committed.
func CreateBGI(b *BGEN, path string) error {
	const op = "create bgi"
	if err := b.checkOpen(op); err != nil {
		return err
	}

	pf, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return newError(KindIO, op, path, pfx.Err(err))
	}
	defer pf.Cleanup()

	if err := writeBGI(b, pf.Name()); err != nil {
		if e, ok := err.(*Error); ok {
			return e
		}
		return newError(KindIO, op, path, err)
	}

	if err := pf.CloseAtomicallyReplace(); err != nil {
		return newError(KindIO, op, path, pfx.Err(err))
	}

	return nil
}

func writeBGI(b *BGEN, dbPath string) (err error) {
	db, err := connectBGI(dbPath)
	if err != nil {
		return pfx.Err(err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = pfx.Err(cerr)
		}
	}()

	if _, err := db.Exec(bgiSchema); err != nil {
		return pfx.Err(err)
	}

	tx, err := db.Beginx()
	if err != nil {
		return pfx.Err(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamed(`INSERT INTO Variant
	(chromosome, position, rsid, number_of_alleles, allele1, allele2, file_start_position, size_in_bytes)
	VALUES (:chromosome, :position, :rsid, :number_of_alleles, :allele1, :allele2, :file_start_position, :size_in_bytes)`)
	if err != nil {
		return pfx.Err(err)
	}
	defer stmt.Close()

	vr := b.NewVariantReader()
	for v := vr.Read(); v != nil; v = vr.Read() {
		row := VariantIndex{
			Chromosome:        v.Chromosome,
			Position:          v.Position,
			RSID:              v.RSID,
			NAlleles:          v.NAlleles,
			FileStartPosition: v.RecordOffset,
			SizeInBytes:       v.RecordSize,
		}
		if len(v.Alleles) > 0 {
			row.Allele1 = v.Alleles[0]
		}
		if len(v.Alleles) > 1 {
			row.Allele2 = v.Alleles[1]
		}
		if _, err := stmt.Exec(row); err != nil {
			return pfx.Err(fmt.Errorf("variant %s at %d: %w", v.RSID, v.RecordOffset, err))
		}
	}
	if err := vr.Error(); err != nil {
		return err
	}

	meta, err := bgiMetadataFor(b)
	if err != nil {
		return err
	}
	if _, err := tx.NamedExec(`INSERT INTO Metadata
	(filename, file_size, last_write_time, first_1000_bytes, index_creation_time)
	VALUES (:filename, :file_size, :last_write_time, :first_1000_bytes, :index_creation_time)`, meta); err != nil {
		return pfx.Err(err)
	}

	if err := tx.Commit(); err != nil {
		return pfx.Err(err)
	}

	return nil
}

func bgiMetadataFor(b *BGEN) (*BGIMetadata, error) {
	meta := &BGIMetadata{
		Filename:          filepath.Base(b.FilePath),
		FileSize:          uint64(b.Size),
		LastWriteTime:     Time(time.Now()),
		IndexCreationTime: Time(time.Now()),
	}

	// Remote files have no local modification time.
	if stat, err := os.Stat(b.FilePath); err == nil {
		meta.LastWriteTime = Time(stat.ModTime())
	}

	meta.FirstThousandBytes = make([]byte, min(int64(bgiFirstBytes), b.Size))
	if err := b.parseAtOffsetWithBuffer(0, meta.FirstThousandBytes); err != nil {
		return nil, pfx.Err(err)
	}

	return meta, nil
}
