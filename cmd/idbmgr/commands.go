package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/urfave/cli.v1"

	"github.com/hupe1980/idb"
	"github.com/hupe1980/idb/blobstore"
	"github.com/hupe1980/idb/blobstore/minio"
	s3store "github.com/hupe1980/idb/blobstore/s3"
)

type app struct {
	cfg    *Config
	logger *idb.Logger
	out    io.Writer
}

var errUsage = fmt.Errorf("%w: wrong number of arguments", idb.ErrInvalid)

func (a *app) commands() []cli.Command {
	storeFlags := []cli.Flag{
		cli.BoolFlag{Name: "s3", Usage: "use an S3 bucket"},
		cli.BoolFlag{Name: "minio", Usage: "use a MinIO bucket"},
	}
	return []cli.Command{
		{
			Name:      "create",
			Usage:     "create a database, replacing an existing one",
			ArgsUsage: "path",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "tl", Usage: "allow document snapshots beyond 2 GiB"},
				cli.BoolFlag{Name: "td", Usage: "compress records with deflate"},
				cli.BoolFlag{Name: "tb", Usage: "compress records with zstd"},
				cli.BoolFlag{Name: "tt", Usage: "compress records with lz4"},
				cli.Int64Flag{Name: "bnum", Value: -1, Usage: "bucket count"},
				cli.IntFlag{Name: "apow", Value: -1, Usage: "record alignment power"},
				cli.IntFlag{Name: "fpow", Value: -1, Usage: "automatic checkpoint power, 0 disables"},
			},
			Action: a.create,
		},
		{Name: "inform", Usage: "print database statistics", ArgsUsage: "path", Action: a.inform},
		{Name: "put", Usage: "store a document", ArgsUsage: "path id text", Action: a.put},
		{Name: "out", Usage: "remove a document", ArgsUsage: "path id", Action: a.remove},
		{Name: "get", Usage: "print a document", ArgsUsage: "path id", Action: a.get},
		{
			Name:      "search",
			Usage:     "search documents",
			ArgsUsage: "path expr",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "m", Value: "SUBSTR", Usage: "search mode"},
				cli.IntFlag{Name: "max", Value: -1, Usage: "maximum number of ids to print"},
				cli.BoolFlag{Name: "pv", Usage: "print document texts"},
			},
			Action: a.search,
		},
		{
			Name:      "compound",
			Usage:     "run a compound search",
			ArgsUsage: "path expr",
			Flags:     []cli.Flag{cli.BoolFlag{Name: "pv", Usage: "print document texts"}},
			Action:    a.compound,
		},
		{
			Name:      "list",
			Usage:     "list document ids",
			ArgsUsage: "path",
			Flags:     []cli.Flag{cli.BoolFlag{Name: "pv", Usage: "print document texts"}},
			Action:    a.list,
		},
		{Name: "optimize", Usage: "rebuild snapshots and indexes", ArgsUsage: "path", Action: a.optimize},
		{Name: "vanish", Usage: "remove every document", ArgsUsage: "path", Action: a.vanish},
		{Name: "copy", Usage: "copy the database files", ArgsUsage: "path dst", Action: a.copy},
		{
			Name:      "importtsv",
			Usage:     "import id<TAB>text lines, - reads stdin",
			ArgsUsage: "path file",
			Action:    a.importTSV,
		},
		{
			Name:      "backup",
			Usage:     "upload the database to a blob store; without -s3 or -minio bucket is a directory",
			ArgsUsage: "path bucket prefix",
			Flags:     storeFlags,
			Action:    a.backup,
		},
		{
			Name:      "restore",
			Usage:     "download a backup into a directory",
			ArgsUsage: "bucket prefix dst",
			Flags:     storeFlags,
			Action:    a.restore,
		},
		{
			Name:  "version",
			Usage: "print the version",
			Action: func(*cli.Context) error {
				fmt.Fprintf(a.out, "idb %s\n", idb.Version)
				return nil
			},
		},
	}
}

func args(ctx *cli.Context, n int) ([]string, error) {
	if ctx.NArg() != n {
		return nil, errUsage
	}
	return ctx.Args()[:n], nil
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: id %q", idb.ErrInvalid, s)
	}
	return id, nil
}

func (a *app) newDB() (*idb.DB, error) {
	db := idb.New(a.cfg.Options(a.logger)...)
	err := db.SetCache(idb.CacheConfig{
		RecordCacheBytes: a.cfg.Cache.RecordBytes,
		LeafCacheCount:   a.cfg.Cache.LeafCount,
	})
	return db, err
}

// withDB opens path, runs fn and closes the database.
func (a *app) withDB(path string, mode idb.OpenMode, fn func(db *idb.DB) error) (err error) {
	db, err := a.newDB()
	if err != nil {
		return err
	}
	if err := db.Open(path, mode); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()
	return fn(db)
}

func (a *app) create(ctx *cli.Context) error {
	argv, err := args(ctx, 1)
	if err != nil {
		return err
	}
	tuning := idb.DefaultTuning()
	tuning.BucketCount = ctx.Int64("bnum")
	tuning.AlignmentPower = ctx.Int("apow")
	tuning.FreeBlockPoolPower = ctx.Int("fpow")
	for flag, opt := range map[string]idb.TuneOption{"tl": idb.TLarge, "td": idb.TDeflate, "tb": idb.TBzip, "tt": idb.TTCBS} {
		if ctx.Bool(flag) {
			tuning.Options |= opt
		}
	}

	db, err := a.newDB()
	if err != nil {
		return err
	}
	if err := db.Tune(tuning); err != nil {
		return err
	}
	if err := db.Open(argv[0], idb.OWriter|idb.OCreate|idb.OTrunc); err != nil {
		return err
	}
	return db.Close()
}

func (a *app) inform(ctx *cli.Context) error {
	argv, err := args(ctx, 1)
	if err != nil {
		return err
	}
	return a.withDB(argv[0], idb.OReader, func(db *idb.DB) error {
		st, err := db.Stat()
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "path: %s\n", st.Path)
		fmt.Fprintf(a.out, "record number: %d\n", st.Records)
		fmt.Fprintf(a.out, "file size: %d\n", st.FileSize)
		fmt.Fprintf(a.out, "q-gram units: %d\n", st.QGramUnits)
		fmt.Fprintf(a.out, "token units: %d\n", st.TokenUnits)
		fmt.Fprintf(a.out, "journal records: %d\n", st.Pending)
		fmt.Fprintf(a.out, "lsn: %d\n", st.LSN)
		fmt.Fprintf(a.out, "bucket count: %d\n", st.Tuning.BucketCount)
		fmt.Fprintf(a.out, "alignment power: %d\n", st.Tuning.AlignmentPower)
		fmt.Fprintf(a.out, "checkpoint power: %d\n", st.Tuning.FreeBlockPoolPower)
		fmt.Fprintf(a.out, "options: %s\n", tuneOptions(st.Tuning.Options))
		if st.Inconsistent {
			fmt.Fprintln(a.out, "inconsistent: indexes rebuilt in memory, run optimize")
		}
		return nil
	})
}

func tuneOptions(o idb.TuneOption) string {
	var parts []string
	for _, n := range []struct {
		opt  idb.TuneOption
		name string
	}{{idb.TLarge, "large"}, {idb.TDeflate, "deflate"}, {idb.TBzip, "zstd"}, {idb.TTCBS, "lz4"}} {
		if o&n.opt != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

func (a *app) put(ctx *cli.Context) error {
	argv, err := args(ctx, 3)
	if err != nil {
		return err
	}
	id, err := parseID(argv[1])
	if err != nil {
		return err
	}
	return a.withDB(argv[0], idb.OWriter, func(db *idb.DB) error {
		return db.Put(id, []byte(argv[2]))
	})
}

func (a *app) remove(ctx *cli.Context) error {
	argv, err := args(ctx, 2)
	if err != nil {
		return err
	}
	id, err := parseID(argv[1])
	if err != nil {
		return err
	}
	return a.withDB(argv[0], idb.OWriter, func(db *idb.DB) error {
		return db.Out(id)
	})
}

func (a *app) get(ctx *cli.Context) error {
	argv, err := args(ctx, 2)
	if err != nil {
		return err
	}
	id, err := parseID(argv[1])
	if err != nil {
		return err
	}
	return a.withDB(argv[0], idb.OReader, func(db *idb.DB) error {
		text, ok, err := db.Get(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: id %d", idb.ErrNotFound, id)
		}
		fmt.Fprintln(a.out, string(text))
		return nil
	})
}

func (a *app) printIDs(db *idb.DB, ids []uint64, limit int, values bool) error {
	for i, id := range ids {
		if limit >= 0 && i >= limit {
			break
		}
		if !values {
			fmt.Fprintln(a.out, id)
			continue
		}
		text, _, err := db.Get(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%d\t%s\n", id, text)
	}
	return nil
}

func (a *app) search(ctx *cli.Context) error {
	argv, err := args(ctx, 2)
	if err != nil {
		return err
	}
	mode, err := idb.ParseSearchMode(ctx.String("m"))
	if err != nil {
		return err
	}
	return a.withDB(argv[0], idb.OReader, func(db *idb.DB) error {
		ids, err := db.Search([]byte(argv[1]), mode)
		if err != nil {
			return err
		}
		return a.printIDs(db, ids, ctx.Int("max"), ctx.Bool("pv"))
	})
}

func (a *app) compound(ctx *cli.Context) error {
	argv, err := args(ctx, 2)
	if err != nil {
		return err
	}
	return a.withDB(argv[0], idb.OReader, func(db *idb.DB) error {
		ids, err := db.SearchCompound([]byte(argv[1]))
		if err != nil {
			return err
		}
		return a.printIDs(db, ids, -1, ctx.Bool("pv"))
	})
}

func (a *app) list(ctx *cli.Context) error {
	argv, err := args(ctx, 1)
	if err != nil {
		return err
	}
	return a.withDB(argv[0], idb.OReader, func(db *idb.DB) error {
		c, err := db.Cursor()
		if err != nil {
			return err
		}
		ids := make([]uint64, 0, c.Len())
		for id, ok := c.Next(); ok; id, ok = c.Next() {
			ids = append(ids, id)
		}
		return a.printIDs(db, ids, -1, ctx.Bool("pv"))
	})
}

func (a *app) optimize(ctx *cli.Context) error {
	argv, err := args(ctx, 1)
	if err != nil {
		return err
	}
	return a.withDB(argv[0], idb.OWriter, func(db *idb.DB) error {
		return db.Optimize()
	})
}

func (a *app) vanish(ctx *cli.Context) error {
	argv, err := args(ctx, 1)
	if err != nil {
		return err
	}
	return a.withDB(argv[0], idb.OWriter, func(db *idb.DB) error {
		return db.Vanish()
	})
}

func (a *app) copy(ctx *cli.Context) error {
	argv, err := args(ctx, 2)
	if err != nil {
		return err
	}
	return a.withDB(argv[0], idb.OReader, func(db *idb.DB) error {
		return db.Copy(argv[1])
	})
}

func (a *app) importTSV(ctx *cli.Context) error {
	argv, err := args(ctx, 2)
	if err != nil {
		return err
	}
	var in io.Reader = os.Stdin
	if argv[1] != "-" {
		f, err := os.Open(argv[1])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	return a.withDB(argv[0], idb.OWriter|idb.OCreate, func(db *idb.DB) error {
		n, err := importLines(db, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "imported %d records\n", n)
		return nil
	})
}

func importLines(db *idb.DB, r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), idb.MaxTextLen+32)
	n, line := 0, 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		idStr, text, ok := strings.Cut(sc.Text(), "\t")
		if !ok {
			return n, fmt.Errorf("%w: line %d: missing tab", idb.ErrInvalid, line)
		}
		id, err := parseID(idStr)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		if err := db.Put(id, []byte(text)); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
	return n, sc.Err()
}

func (a *app) openStore(ctx context.Context, c *cli.Context, bucket string) (blobstore.BlobStore, error) {
	switch {
	case c.Bool("s3") && c.Bool("minio"):
		return nil, fmt.Errorf("%w: -s3 and -minio are exclusive", idb.ErrInvalid)
	case c.Bool("s3"):
		var opts []s3store.Option
		if a.cfg.S3.Region != "" {
			opts = append(opts, s3store.WithRegion(a.cfg.S3.Region))
		}
		if a.cfg.S3.Endpoint != "" {
			opts = append(opts, s3store.WithEndpoint(a.cfg.S3.Endpoint))
		}
		return s3store.New(ctx, bucket, opts...)
	case c.Bool("minio"):
		store, err := minio.New(minio.Config{
			Endpoint:  a.cfg.Minio.Endpoint,
			AccessKey: a.cfg.Minio.AccessKey,
			SecretKey: a.cfg.Minio.SecretKey,
			Region:    a.cfg.Minio.Region,
			Secure:    a.cfg.Minio.Secure,
			Bucket:    bucket,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return blobstore.NewLocalStore(bucket), nil
	}
}

func (a *app) backup(c *cli.Context) error {
	argv, err := args(c, 3)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := a.openStore(ctx, c, argv[1])
	if err != nil {
		return err
	}
	return a.withDB(argv[0], idb.OReader, func(db *idb.DB) error {
		return db.Backup(ctx, store, argv[2])
	})
}

func (a *app) restore(c *cli.Context) error {
	argv, err := args(c, 3)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := a.openStore(ctx, c, argv[0])
	if err != nil {
		return err
	}
	return idb.Restore(ctx, store, argv[1], argv[2], a.cfg.Options(a.logger)...)
}
