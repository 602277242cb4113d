package command

import (
	"github.com/ValentinKolb/dCache/lib/pool"
	"github.com/ValentinKolb/dCache/rpc/common"
)

// renter hands out pooled commands of one type
type renter interface {
	rent() CommandBase
}

type commandPool[I any] struct {
	p *pool.Pool[*command[I]]
}

func (cp commandPool[I]) rent() CommandBase {
	return cp.p.Rent()
}

// Registry maps every command type to the pool of its command objects
type Registry struct {
	pools [256]renter
	types []common.CommandType
}

// NewRegistry creates the command pools of inst. Command pools are tracked
// by inst.Pools, so their leases show up in the pool stats.
func NewRegistry(inst *Instance) *Registry {
	r := &Registry{}
	registerSession(r, inst)
	registerItems(r, inst)
	registerBulk(r, inst)
	registerQueries(r, inst)
	registerNotifications(r, inst)
	registerTopics(r, inst)
	registerProcessing(r, inst)
	return r
}

// register adds the pool of desc to r
func register[I any](r *Registry, inst *Instance, desc *Descriptor[I]) {
	if int(desc.Type) >= len(r.pools) || r.pools[desc.Type] != nil {
		panic("command: invalid or duplicate registration of " + desc.Type.String())
	}
	fake := inst.Config == nil || !inst.Config.Pooling
	var p *pool.Pool[*command[I]]
	p = pool.New(desc.Type.String(), func() *command[I] {
		return &command[I]{desc: desc, inst: inst, pool: p}
	}, fake)
	if inst.Pools != nil {
		inst.Pools.Track(p)
	}
	r.pools[desc.Type] = commandPool[I]{p: p}
	r.types = append(r.types, desc.Type)
}

// Rent returns a command for t. ok is false for unknown command types.
// The caller gives the command back with ReturnLeasableToPool.
func (r *Registry) Rent(t common.CommandType) (cmd CommandBase, ok bool) {
	if int(t) >= len(r.pools) || r.pools[t] == nil {
		return nil, false
	}
	return r.pools[t].rent(), true
}

// Types returns the registered command types in registration order
func (r *Registry) Types() []common.CommandType {
	return append([]common.CommandType(nil), r.types...)
}
