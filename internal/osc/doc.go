// Package osc implements the Open Sound Control surface used by the
// supervisor and device workers.
//
// Wire encoding is delegated to github.com/hypebeast/go-osc; this package
// adds argument accessors, bundle flattening on receive, a method
// dispatcher keyed by address and type tags, and a UDP server that plugs
// into an event loop instead of running its own read loop.
package osc
