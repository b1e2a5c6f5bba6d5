package segment

import (
	"context"
	"sync"

	"extlog/cache"
	"extlog/utils"
	"extlog/utils/errs"

	"github.com/pkg/errors"
)

// Loader rebuilds a segment of one type from its exchange stanza.
type Loader func(s *LoadSession, id uint64, st *Stanza) (Segment, error)

// Manager hands segments the services they need: options, the width of
// their op queues, the directory file segments live in, the shared block
// cache and the loaders used to deserialize each segment type.
type Manager struct {
	opt *utils.Options

	lock    sync.RWMutex
	loaders map[string]Loader
	cache   *cache.BlockCache
}

func NewManager(opt *utils.Options) *Manager {
	if opt == nil {
		opt = utils.DefaultOptions()
	}
	opt.Normalize()
	m := &Manager{
		opt:     opt,
		loaders: make(map[string]Loader),
	}
	m.Register(TypeMem, loadMem)
	m.Register(TypeFile, loadFile)
	m.Register(TypeCache, loadCache)
	return m
}

func (m *Manager) Options() *utils.Options {
	return m.opt
}

// Dir is where file segments are created.
func (m *Manager) Dir() string {
	return m.opt.WorkDir
}

func (m *Manager) Width() int {
	return m.opt.QueueWidth
}

func (m *Manager) NewQueue(ctx context.Context) *Queue {
	return NewQueue(ctx, m.opt.QueueWidth)
}

// BlockCache returns the cache shared by every cache segment of the manager.
func (m *Manager) BlockCache() *cache.BlockCache {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.cache == nil {
		m.cache = cache.NewBlockCache(m.opt.CacheBlocks, m.opt.CacheBlockSize)
	}
	return m.cache
}

// Register installs the loader of a segment type, replacing any previous one.
func (m *Manager) Register(typ string, loader Loader) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.loaders[typ] = loader
}

func (m *Manager) loader(typ string) (Loader, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	loader, ok := m.loaders[typ]
	if !ok {
		return nil, errors.Wrapf(errs.ErrUnknownType, "%q", typ)
	}
	return loader, nil
}
