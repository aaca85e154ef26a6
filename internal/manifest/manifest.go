package manifest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/idb/internal/fs"
)

const (
	// FileName is the name of the manifest inside the database directory.
	FileName = "META"
	// CurrentVersion is the version of the manifest format.
	CurrentVersion = 1
)

// Tuning is the storage tuning fixed when a database is created.
type Tuning struct {
	BucketCount int64
	AlignPower  int32
	FreePower   int32
	Options     uint32
}

// Manifest describes the persisted state of a database directory.
type Manifest struct {
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
	Tuning    Tuning
	QGramSize int

	// Journal positions covered by each snapshot.
	DocsLSN  uint64
	QGramLSN uint64
	TokenLSN uint64

	// Records is the document count at the last checkpoint.
	Records uint64

	// Label is free-form text, e.g. the program that created the database.
	Label string
}

// New creates a manifest for a fresh database.
func New(t Tuning, qgramSize int) *Manifest {
	now := time.Now()
	return &Manifest{
		Version:   CurrentVersion,
		CreatedAt: now,
		UpdatedAt: now,
		Tuning:    t,
		QGramSize: qgramSize,
	}
}

// Consistent reports whether both index snapshots cover the same journal
// position as the document snapshot.
func (m *Manifest) Consistent() bool {
	return m.DocsLSN == m.QGramLSN && m.DocsLSN == m.TokenLSN
}

// Path returns the manifest path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Load reads the manifest of the database in dir.
func Load(fsys fs.FileSystem, dir string) (*Manifest, error) {
	data, err := fs.ReadFile(fsys, Path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ReadBinary(bytes.NewReader(data))
}

// Save atomically replaces the manifest of the database in dir.
func Save(fsys fs.FileSystem, dir string, m *Manifest) error {
	m.Version = CurrentVersion
	m.UpdatedAt = time.Now()
	if err := fs.WriteAtomic(fsys, Path(dir), func(w io.Writer) error {
		return m.WriteBinary(w)
	}); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}
