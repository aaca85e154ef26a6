package blobstore

import (
	"context"
	"errors"
	"io"
)

// Upload streams r into a new blob called name.
func Upload(ctx context.Context, store BlobStore, name string, r io.Reader) (int64, error) {
	w, err := store.Create(ctx, name)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return n, err
	}
	if err := w.Sync(); err != nil {
		_ = w.Close()
		return n, err
	}
	return n, w.Close()
}

// Download copies the blob called name to w.
func Download(ctx context.Context, store BlobStore, name string, w io.Writer) (int64, error) {
	b, err := store.Open(ctx, name)
	if err != nil {
		return 0, err
	}
	defer b.Close()

	if b.Size() == 0 {
		return 0, nil
	}
	if mb, ok := b.(Mappable); ok {
		data, err := mb.Bytes()
		if err != nil {
			return 0, err
		}
		n, err := w.Write(data)
		return int64(n), err
	}
	rc, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := io.Copy(w, rc)
	if err != nil {
		return n, err
	}
	if n != b.Size() {
		return n, errors.Join(io.ErrUnexpectedEOF, errors.New("blobstore: short download of "+name))
	}
	return n, nil
}
