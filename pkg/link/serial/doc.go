// Package serial carries link packets over a byte stream without framing of
// its own, typically a UART to a target side helper.
//
// Each direction numbers its frames. A receiver accepts a frame only when it
// starts with the next expected number, otherwise it asks the peer to
// resynchronize. There is no checksum; enable parity on the port if the line
// is noisy.
//
// Sync bytes (a sync byte is followed by the sender's next frame number):
//
//	0xff  request synchronization
//	0xfe  acknowledge synchronization
//
// Frame:
//
//	seq | ctl | [len] | data
//
// ctl bit 0 marks the last frame of a packet and bits 4-6 hold the data length
// when it's below 7. A value of 7 means a length byte (< 0x80) follows. Packets
// longer than MaxFrameData are split into several frames.
package serial
