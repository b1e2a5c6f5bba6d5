// Package extlog stores one logical file as a stack of segments in a work
// directory: a log segment over a base file, described by an exnode file
// that is rewritten whenever the stack changes.
package extlog

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"extlog/seglog"
	"extlog/segment"
	"extlog/utils"
	"extlog/utils/errs"

	"github.com/pkg/errors"
)

// exnodeSection names the stanza pointing at the top segment.
const exnodeSection = "exnode"

type DB struct {
	sync.RWMutex
	opt    *utils.Options
	m      *segment.Manager
	log    *seglog.Log
	closed bool
}

// Open loads the exnode in opt.WorkDir, or creates a new log over an empty
// base file when there is none.
func Open(opt *utils.Options) (*DB, error) {
	if opt == nil {
		opt = utils.DefaultOptions()
	}
	opt.Normalize()
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	utils.SetLogLevel(opt.LogLevel)
	if err := os.MkdirAll(opt.WorkDir, os.ModePerm); err != nil {
		return nil, errors.Wrapf(err, "create %s", opt.WorkDir)
	}

	db := &DB{opt: opt, m: segment.NewManager(opt)}
	seglog.Register(db.m)
	ctx, cancel := db.context()
	defer cancel()

	// an exnode left in the other format is converted on the next save
	for _, format := range []string{opt.ExchangeFormat, otherFormat(opt.ExchangeFormat)} {
		data, err := os.ReadFile(db.exnodePath(format))
		switch {
		case err == nil:
			db.log, err = db.load(ctx, format, data)
			if err != nil {
				return nil, err
			}
			if format != opt.ExchangeFormat {
				if err := db.save(); err != nil {
					db.log.DecrRef()
					return nil, err
				}
			}
			utils.Infof("opened %s: log %d size=%d", opt.WorkDir, db.log.ID(), db.log.Size())
			return db, nil
		case !os.IsNotExist(err):
			return nil, errors.Wrapf(err, "read exnode")
		}
	}

	var err error
	if db.log, err = seglog.New(db.m); err != nil {
		return nil, err
	}
	db.log.SetName(filepath.Base(opt.WorkDir))
	if opt.CacheBase {
		base := db.log.Base()
		base.IncrRef()
		db.log.SetBase(segment.NewCached(db.m, base))
	}
	if err := db.save(); err != nil {
		db.log.DecrRef()
		return nil, err
	}
	utils.Infof("created %s: log %d", opt.WorkDir, db.log.ID())
	return db, nil
}

func (db *DB) load(ctx context.Context, format string, data []byte) (*seglog.Log, error) {
	ex, err := segment.Unmarshal(format, data)
	if err != nil {
		return nil, errors.Wrap(err, "parse exnode")
	}
	st, ok := ex.Lookup(exnodeSection)
	if !ok {
		return nil, errors.Wrapf(errs.ErrMissingSegment, "exnode has no [%s] section", exnodeSection)
	}
	id, err := st.Uint64("default")
	if err != nil {
		return nil, errors.Wrap(err, "exnode default segment")
	}
	seg, err := segment.NewLoadSession(ctx, db.m, ex).Load(id)
	if err != nil {
		return nil, err
	}
	l, ok := seg.(*seglog.Log)
	if !ok {
		seg.DecrRef()
		return nil, errors.Wrapf(errs.ErrUnknownType, "default segment %d is a %s segment", id, seg.Type())
	}
	return l, nil
}

func otherFormat(format string) string {
	if format == utils.ExchangeFormatProto {
		return utils.ExchangeFormatText
	}
	return utils.ExchangeFormatProto
}

func (db *DB) exnodePath(format string) string {
	if format == utils.ExchangeFormatProto {
		return filepath.Join(db.opt.WorkDir, utils.ExnodeProtoFileName)
	}
	return filepath.Join(db.opt.WorkDir, utils.ExnodeFileName)
}

// save rewrites the exnode next to the old one and renames it into place.
func (db *DB) save() error {
	ex := segment.NewExchange()
	ex.Section(exnodeSection).SetUint64("default", db.log.ID())
	if err := db.log.Serialize(ex); err != nil {
		return err
	}
	data, err := ex.Marshal(db.opt.ExchangeFormat)
	if err != nil {
		return err
	}
	path := db.exnodePath(db.opt.ExchangeFormat)
	tmp := path + utils.ExnodeRewriteSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create exnode")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrap(err, "write exnode")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "sync exnode")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close exnode")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "install exnode")
	}
	stale := db.exnodePath(otherFormat(db.opt.ExchangeFormat))
	if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove stale exnode")
	}
	return nil
}

func (db *DB) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), db.opt.Timeout)
}

// Log returns the top segment.
func (db *DB) Log() *seglog.Log {
	return db.log
}

func (db *DB) Size() int64 {
	return db.log.Size()
}

// ReadAt reads len(p) bytes at off. Like io.ReaderAt, it returns io.EOF
// when fewer bytes are available.
func (db *DB) ReadAt(p []byte, off int64) (int, error) {
	db.RLock()
	defer db.RUnlock()
	if db.closed {
		return 0, errs.ErrClosed
	}
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	n := min(int64(len(p)), max(db.log.Size()-off, 0))
	if n > 0 {
		ctx, cancel := db.context()
		defer cancel()
		if err := db.log.Read(ctx, segment.Extents(off, n), p[:n]); err != nil {
			return 0, err
		}
	}
	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

func (db *DB) WriteAt(p []byte, off int64) (int, error) {
	db.RLock()
	defer db.RUnlock()
	if db.closed {
		return 0, errs.ErrClosed
	}
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	ctx, cancel := db.context()
	defer cancel()
	if err := db.log.Write(ctx, segment.Extents(off, int64(len(p))), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (db *DB) Truncate(size int64) error {
	db.RLock()
	defer db.RUnlock()
	if db.closed {
		return errs.ErrClosed
	}
	ctx, cancel := db.context()
	defer cancel()
	return db.log.Truncate(ctx, size)
}

// Merge folds the log into the base file and empties it.
func (db *DB) Merge() error {
	db.RLock()
	defer db.RUnlock()
	if db.closed {
		return errs.ErrClosed
	}
	ctx, cancel := db.context()
	defer cancel()
	return db.log.MergeWithBase(ctx, db.opt.CopyBufferSize, true)
}

// Snapshot clones the file. The caller owns the returned segment.
func (db *DB) Snapshot(mode segment.CloneMode) (segment.Segment, error) {
	db.RLock()
	defer db.RUnlock()
	if db.closed {
		return nil, errs.ErrClosed
	}
	ctx, cancel := db.context()
	defer cancel()
	return db.log.Clone(ctx, mode)
}

func (db *DB) Flush() error {
	db.Lock()
	defer db.Unlock()
	if db.closed {
		return errs.ErrClosed
	}
	return db.flush()
}

func (db *DB) flush() error {
	ctx, cancel := db.context()
	defer cancel()
	if err := db.log.Flush(ctx); err != nil {
		return err
	}
	return db.save()
}

func (db *DB) Inspect(w io.Writer) error {
	db.RLock()
	defer db.RUnlock()
	if db.closed {
		return errs.ErrClosed
	}
	ctx, cancel := db.context()
	defer cancel()
	return db.log.Inspect(ctx, w)
}

// Close flushes the segments, records them in the exnode and releases them.
func (db *DB) Close() error {
	db.Lock()
	defer db.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	err := db.flush()
	if rerr := db.log.DecrRef(); err == nil {
		err = rerr
	}
	return errs.Err(err)
}
