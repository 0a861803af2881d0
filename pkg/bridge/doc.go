// Package bridge exposes an rpc.Caller to remote hosts over a packet link.
//
// Server performs calls on behalf of peers; Conn is the peer side and
// implements rpc.Caller itself, so a remote target is used like a local one.
// Each request carries an id echoed by its reply. Replies for requests the
// peer gave up on are dropped.
package bridge
