/*
Package lcache is the in-process cache engine the server runs commands
against. It implements cache.ICache on a sharded item table with lazy and
background expiry, key dependencies, item locks and versions, tag and query
search, continuous queries, polling notifications, key enumeration and
topics.

The engine is safe for concurrent use. Items are stored as immutable records,
every write replaces the record of a key inside an atomic compute on its
shard.

	c := lcache.New(lcache.DefaultOptions("demo"))
	defer c.Close()
	oc := opctx.New(opctx.CacheOperation)
	_ = c.Add("k", entry, oc)
*/
package lcache
