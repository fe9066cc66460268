// Package dispatch runs codec work on a fixed pool of workers so request
// handlers and MQTT callbacks never compress or decompress inline.
//
// Every accepted Job produces exactly one Result, delivered to the
// OnCompressed or OnDecompressed callback chosen at construction. Codec
// failures and panics become failure Results carrying the original topic;
// they never stop the pool. The queue is bounded: Submit either rejects
// with ErrQueueFull or blocks, depending on Config.Block.
//
// Awaiter turns the callback flow into a request/response call for
// handlers that need the result before they can reply.
package dispatch
