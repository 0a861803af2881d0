// Package rpc implements opcode-addressed calls over a pair of channel regions.
package rpc

// A channel pair is a command region (controller produces, target consumes)
// and a response region (target produces, controller consumes). The
// controller side is Client, the target side is Dispatcher.
//
// Only one call is in flight per pair. Every command carries a sequence
// number which the target echoes in its response; the client drops any
// response carrying another sequence, so replies to abandoned calls can never
// complete a later one. Pool spreads calls over several independent pairs.
//
// Opcode level failures travel inside a successfully delivered response
// (see Status); only transport failures are returned as errors.
