// Package channel provides the shared-memory channel region used by corpc.
package channel

// A channel region is a single-slot mailbox in the target's RAM. The producer
// owns the region while the ready word is 0 and hands it to the consumer by
// writing 1 as its very last store. The consumer reads the frame only after it
// observes ready == 1, and returns ownership by writing 0 as its very last store.
//
// This relies on two properties of the memory path only:
//   - an aligned 32-bit word is never observed torn;
//   - stores to the region become visible in program order.
//
// Targets without the second property need a barrier around the ready word,
// see Options.Barrier and Fencer.
//
// Producer: controller for the command region, target for the response region.
// Consumer: the other side.
