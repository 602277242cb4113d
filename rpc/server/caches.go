package server

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/cache/lcache"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/multierr"
)

// EngineFactory creates the engine of a configured cache
type EngineFactory func(sc common.ServerCache) (cache.ICache, error)

// DefaultEngineFactory creates the engines the configuration asks for
func DefaultEngineFactory(sc common.ServerCache) (cache.ICache, error) {
	switch sc.Engine {
	case common.EngineLocal, "":
		return lcache.New(lcache.DefaultOptions(sc.Name)), nil
	default:
		return nil, fmt.Errorf("invalid engine %q for cache %s", sc.Engine, sc.Name)
	}
}

// hostedCache is a cache served by the server together with its
// operation mode latch
type hostedCache struct {
	id      uint64
	name    string
	engine  cache.ICache
	offline atomic.Bool
}

// cacheTable holds the hosted caches by id (implements command.CacheResolver)
type cacheTable struct {
	byID *xsync.MapOf[uint64, *hostedCache]
}

// newCacheTable creates the engines of all configured caches. On error the
// engines created so far are closed again.
func newCacheTable(caches []common.ServerCache, factory EngineFactory) (*cacheTable, error) {
	t := &cacheTable{byID: xsync.NewMapOf[uint64, *hostedCache]()}
	for _, sc := range caches {
		if _, ok := t.byID.Load(sc.CacheID); ok {
			_ = t.Close()
			return nil, fmt.Errorf("duplicate cache id %d", sc.CacheID)
		}
		engine, err := factory(sc)
		if err != nil {
			_ = t.Close()
			return nil, err
		}
		hc := &hostedCache{id: sc.CacheID, name: sc.Name, engine: engine}
		engine.RegisterOperationModeListener(func(mode cache.OperationMode) {
			hc.offline.Store(mode == cache.ModeOffline)
			Logger.Warningf("cache %s (%d) switched to %s", hc.name, hc.id, mode)
		})
		t.byID.Store(sc.CacheID, hc)
		Logger.Infof("created %s cache %s with id %d", sc.Engine, sc.Name, sc.CacheID)
	}
	return t, nil
}

// hosted returns the hosted cache with the given id
func (t *cacheTable) hosted(id uint64) (*hostedCache, bool) {
	return t.byID.Load(id)
}

func (t *cacheTable) CacheByID(id uint64) (cache.ICache, bool) {
	hc, ok := t.byID.Load(id)
	if !ok {
		return nil, false
	}
	return hc.engine, true
}

func (t *cacheTable) CacheByName(name string) (cache.ICache, uint64, bool) {
	var found *hostedCache
	t.byID.Range(func(_ uint64, hc *hostedCache) bool {
		if strings.EqualFold(hc.name, name) {
			found = hc
			return false
		}
		return true
	})
	if found == nil {
		return nil, 0, false
	}
	return found.engine, found.id, true
}

// Close closes every engine
func (t *cacheTable) Close() error {
	var err error
	t.byID.Range(func(id uint64, hc *hostedCache) bool {
		err = multierr.Append(err, hc.engine.Close())
		t.byID.Delete(id)
		return true
	})
	return err
}
