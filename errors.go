package idb

import (
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/idb/internal/codec"
	"github.com/hupe1980/idb/internal/docstore"
	"github.com/hupe1980/idb/internal/fs"
	"github.com/hupe1980/idb/internal/invindex"
	"github.com/hupe1980/idb/internal/manifest"
	"github.com/hupe1980/idb/internal/query"
	"github.com/hupe1980/idb/internal/search"
	"github.com/hupe1980/idb/internal/wal"
)

// ECode is the error code of the last call on a handle.
type ECode int32

const (
	ECodeSuccess ECode = 0
	ECodeThread  ECode = 1
	ECodeInvalid ECode = 2
	ECodeNoFile  ECode = 3
	ECodeNoPerm  ECode = 4
	ECodeMeta    ECode = 5
	ECodeRHead   ECode = 6
	ECodeOpen    ECode = 7
	ECodeClose   ECode = 8
	ECodeTrunc   ECode = 9
	ECodeSync    ECode = 10
	ECodeStat    ECode = 11
	ECodeSeek    ECode = 12
	ECodeRead    ECode = 13
	ECodeWrite   ECode = 14
	ECodeMmap    ECode = 15
	ECodeLock    ECode = 16
	ECodeUnlink  ECode = 17
	ECodeRename  ECode = 18
	ECodeMkdir   ECode = 19
	ECodeRmdir   ECode = 20
	ECodeKeep    ECode = 21
	ECodeNoRec   ECode = 22
	ECodeMisc    ECode = 9999
)

var messages = map[ECode]string{
	ECodeSuccess: "success",
	ECodeThread:  "threading error",
	ECodeInvalid: "invalid operation",
	ECodeNoFile:  "file not found",
	ECodeNoPerm:  "no permission",
	ECodeMeta:    "invalid meta data",
	ECodeRHead:   "invalid record header",
	ECodeOpen:    "open error",
	ECodeClose:   "close error",
	ECodeTrunc:   "trunc error",
	ECodeSync:    "sync error",
	ECodeStat:    "stat error",
	ECodeSeek:    "seek error",
	ECodeRead:    "read error",
	ECodeWrite:   "write error",
	ECodeMmap:    "mmap error",
	ECodeLock:    "lock error",
	ECodeUnlink:  "unlink error",
	ECodeRename:  "rename error",
	ECodeMkdir:   "mkdir error",
	ECodeRmdir:   "rmdir error",
	ECodeKeep:    "existing record",
	ECodeNoRec:   "no record found",
	ECodeMisc:    "miscellaneous error",
}

// ErrMsg returns the message of an error code.
func ErrMsg(code ECode) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return "unknown error"
}

func (c ECode) String() string { return ErrMsg(c) }

var (
	// ErrNotOpen is returned by calls that need an open handle.
	ErrNotOpen = errors.New("database not open")
	// ErrReadOnly is returned by writes on a reader handle.
	ErrReadOnly = errors.New("database opened read-only")
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalid is returned for invalid arguments and misuse of the handle.
	ErrInvalid = errors.New("invalid operation")
)

// Error is returned by DB methods. It carries the code recorded on the handle.
type Error struct {
	Op   string
	Code ECode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("idb: %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("idb: %s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf classifies err.
func CodeOf(err error) ECode {
	if err == nil {
		return ECodeSuccess
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, docstore.ErrNotFound):
		return ECodeNoRec
	case errors.Is(err, ErrNotOpen), errors.Is(err, ErrReadOnly), errors.Is(err, ErrInvalid),
		errors.Is(err, search.ErrInvalidMode), errors.Is(err, search.ErrTooLong),
		errors.Is(err, query.ErrSyntax), errors.Is(err, codec.ErrUnknown):
		return ECodeInvalid
	case errors.Is(err, fs.ErrLocked):
		return ECodeLock
	case errors.Is(err, manifest.ErrIncompatibleVersion), errors.Is(err, manifest.ErrCorrupt),
		errors.Is(err, docstore.ErrCorrupt), errors.Is(err, docstore.ErrFormat),
		errors.Is(err, invindex.ErrCorrupt):
		return ECodeMeta
	case errors.Is(err, wal.ErrInvalidHeader), errors.Is(err, wal.ErrIncompatibleVersion):
		return ECodeRHead
	case errors.Is(err, docstore.ErrTooLarge):
		return ECodeWrite
	case errors.Is(err, os.ErrNotExist):
		return ECodeNoFile
	case errors.Is(err, os.ErrPermission):
		return ECodeNoPerm
	}

	var pe *os.PathError
	if errors.As(err, &pe) {
		switch pe.Op {
		case "open":
			return ECodeOpen
		case "close":
			return ECodeClose
		case "sync", "fsync":
			return ECodeSync
		case "write":
			return ECodeWrite
		case "read":
			return ECodeRead
		case "seek":
			return ECodeSeek
		case "truncate":
			return ECodeTrunc
		case "stat", "fstat", "lstat":
			return ECodeStat
		case "remove", "unlink", "unlinkat":
			return ECodeUnlink
		case "mkdir", "mkdirall":
			return ECodeMkdir
		case "mmap":
			return ECodeMmap
		}
	}
	var le *os.LinkError
	if errors.As(err, &le) {
		return ECodeRename
	}
	return ECodeMisc
}

// record stores the outcome of op as the handle's last error code and
// returns err as an *Error.
func (db *DB) record(op string, err error) error {
	if err == nil {
		db.ecode.Store(int32(ECodeSuccess))
		return nil
	}
	code := CodeOf(err)
	db.ecode.Store(int32(code))
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Op: op, Code: code, Err: err}
}

// fail records err with an explicit code.
func (db *DB) fail(op string, code ECode, err error) error {
	db.ecode.Store(int32(code))
	return &Error{Op: op, Code: code, Err: err}
}
