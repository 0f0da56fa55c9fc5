// Package analysis provides level metering for the plugin output.
//
// The meters are written by the real-time audio goroutine and read from
// any other goroutine (editor, CLI) without locks: the writer keeps its
// state privately and publishes each value as a single atomic store.
package analysis
