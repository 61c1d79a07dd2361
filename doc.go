// Package pond reshapes an incoming byte stream into reads of exactly the
// sizes a consumer asks for, whatever the sizes of the chunks it arrives in.
//
// A Pond buffers fed chunks and resolves one outstanding read at a time. A
// Stage wraps a Pond as a duplex: writes feed it, and a Generator (or the
// caller) reads sized chunks from it and pushes them downstream. Writers are
// held back while the pond has no use for more input. AsyncReader drives
// sized reads from a pull-based Source such as ReaderSource.
package pond
