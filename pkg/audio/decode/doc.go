// ABOUTME: Package documentation for decode
// ABOUTME: Codec packet to PCM decoders
//
// Package decode turns codec packets into interleaved float32 PCM. Decoders
// are built from a wire codec descriptor so receivers never need the source
// file, and are stateful per stream.
package decode
