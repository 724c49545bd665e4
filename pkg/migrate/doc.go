// Package migrate implements the vnode migration wire protocol: a
// framed request/ack exchange over a websocket connection
// between the source and destination owners of one vnode transfer.
//
// Runner drives the source side and is handed to vnode.Manager as its
// MigrationRunner. Server accepts inbound connections on the destination
// and turns wire frames into vnode.Task values fed to the local manager.
package migrate
