// ABOUTME: Package documentation for audio
// ABOUTME: Core PCM types shared by the whole pipeline
//
// Package audio defines the PCM buffer and frame types that move through
// the party's processing graph, plus the stream format descriptor used to
// bootstrap codecs from the wire.
package audio
