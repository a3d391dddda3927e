// Package gateway runs the connection gateway: it binds the HTTP listener,
// connects the pub/sub bridge, installs it on the websocket transport and
// begins accepting connections.
//
// # Lifecycle
//
//	Unbound -> BridgePending -> Accepting -> Stopped
//	                         \-> Failed
//
// Start binds the listener while Unbound. A bridge connect failure closes
// the listener and leaves the gateway Failed; no request is ever served.
// Accepting ends only with Stop.
//
// # Usage
//
//	gw, err := gateway.New(cfg, app,
//	    gateway.WithLogger(logger),
//	    gateway.WithMiddleware(pipeline.Then),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := gw.Start(ctx); err != nil {
//	    return err
//	}
//	defer gw.Stop(ctx)
package gateway
