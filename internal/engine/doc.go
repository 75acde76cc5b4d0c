// Package engine drives the udocker command line: listing and pulling images,
// creating and configuring the named container, and running it.
//
// Listings are parsed into typed values so callers compare image references and
// container names exactly instead of searching the raw command output.
package engine
