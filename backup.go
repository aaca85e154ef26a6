package idb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/idb/blobstore"
	"github.com/hupe1980/idb/internal/fs"
	"github.com/hupe1980/idb/internal/manifest"
	"github.com/hupe1980/idb/internal/resource"
)

// Backup uploads a consistent copy of the database to store below prefix.
// Writers wait until the upload has finished.
func (db *DB) Backup(ctx context.Context, store blobstore.BlobStore, prefix string) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.record("backup", db.backupLocked(ctx, store, prefix))
}

func (db *DB) backupLocked(ctx context.Context, store blobstore.BlobStore, prefix string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("%w: nil blob store", ErrInvalid)
	}
	if db.journal != nil {
		if err := db.journal.Sync(); err != nil {
			return err
		}
	}

	rc := db.opts.resource
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(rc.Workers(), 1))
	// The manifest goes last so a backup without META is recognizably partial.
	for _, name := range databaseFiles[1:] {
		src := filepath.Join(db.path, name)
		ok, err := fs.Exists(db.opts.fs, src)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		g.Go(func() error {
			return upload(gctx, db.opts.fs, rc, store, src, path.Join(prefix, name))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := upload(ctx, db.opts.fs, rc, store, manifest.Path(db.path), path.Join(prefix, manifest.FileName)); err != nil {
		return err
	}
	db.logger.Info("database backed up", "path", db.path, "prefix", prefix)
	return nil
}

func upload(ctx context.Context, fsys fs.FileSystem, rc *resource.Controller, store blobstore.BlobStore, src, name string) error {
	f, err := fsys.OpenFile(src, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := blobstore.Upload(ctx, store, name, rc.LimitReader(ctx, f)); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

// Restore downloads the backup stored below prefix into the directory dst.
// Existing database files in dst are replaced. The restored database is
// opened with Open like any other.
func Restore(ctx context.Context, store blobstore.BlobStore, prefix, dst string, optFns ...Option) error {
	o := applyOptions(optFns)
	err := restore(ctx, o, store, prefix, dst)
	if err != nil {
		o.logger.Error("restore failed", "prefix", prefix, "dst", dst, "error", err)
		return &Error{Op: "restore", Code: CodeOf(err), Err: err}
	}
	o.logger.Info("database restored", "prefix", prefix, "dst", dst)
	return nil
}

func restore(ctx context.Context, o options, store blobstore.BlobStore, prefix, dst string) error {
	if store == nil {
		return fmt.Errorf("%w: nil blob store", ErrInvalid)
	}
	meta, err := store.Open(ctx, path.Join(prefix, manifest.FileName))
	if err != nil {
		return fmt.Errorf("backup %q: %w", prefix, err)
	}
	_ = meta.Close()

	if err := o.fs.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, name := range databaseFiles {
		target := filepath.Join(dst, name)
		err := fs.WriteAtomic(o.fs, target, func(w io.Writer) error {
			_, err := blobstore.Download(ctx, store, path.Join(prefix, name), o.resource.LimitWriter(ctx, w))
			return err
		})
		switch {
		case err == nil:
		case errors.Is(err, os.ErrNotExist) && name != manifest.FileName:
			// Not every database has every file.
			if rerr := o.fs.Remove(target); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				return rerr
			}
		default:
			return err
		}
	}
	return nil
}
