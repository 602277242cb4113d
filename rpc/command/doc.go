/*
Package command implements every command the cache server understands.

A command type is described once by a Descriptor: how its request is parsed,
how it is executed against the cache engine and which capabilities it has.
A single generic driver turns descriptors into CommandBase values and owns
the parts that are equal for all commands:

  - Parse always runs before Execute, a parse failure skips Execute.
  - A parse failure queues one exception packet, unless the request id is
    ImmatureID ("-2").
  - An execute failure queues one exception packet. A cancelled execution
    queues nothing and is reported through IsCancelled.
  - Every pooled object taken during the call (contexts, entries, hints,
    bit sets, binary objects) is released exactly once on every exit path.

Responses are encoded by common.EncodeResponse, so the standalone form for
clients of version 5000 and newer and the wrapped form for older clients are
decided in one place.

Usage:

	inst := &command.Instance{Config: &cfg, Codec: codec, Pools: pool.NewManager(!cfg.Pooling), Caches: caches}
	registry := command.NewRegistry(inst)

	cmd, ok := registry.Rent(envelope.Type)
	if !ok {
		// unknown command
	}
	cmd.ExecuteCommand(ctx, session, envelope)
	packets := cmd.SerializedResponsePackets()
	// ... write packets ...
	cmd.ReturnLeasableToPool()

Commands of one session must be executed sequentially, commands of different
sessions may run in parallel.
*/
package command
