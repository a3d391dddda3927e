// Package bridge connects the websocket transport of one gateway process
// to every other process through a Redis pub/sub channel.
//
// Connect opens two clients built from one parsed configuration: the
// publisher and the subscriber. A Redis connection in subscribe mode
// cannot issue PUBLISH, so the two are never shared. Connect succeeds only
// when both clients answer PING; otherwise both are closed and the error
// wraps ErrConnect.
//
//	b, err := bridge.Connect(ctx, cfg.Redis, bridge.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//
//	if err := b.Install(ctx, transport); err != nil {
//	    return err
//	}
//
// After Install every local broadcast of the transport is published as a
// Packet, and every Packet published by another process is handed back to
// the transport through Target.Deliver. Reconnects are left to go-redis.
package bridge
