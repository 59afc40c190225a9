/*
Package cache wraps a go-redis client for the assembly cache.

Manager owns the client lifecycle: it pings on construction, runs a
background health check and closes the pool on Close. Values are either
plain strings, JSON, or zstd-compressed JSON (GetCompressedJSON and
SetCompressedJSON), which keeps multi-source assembly payloads small.

A missing key is reported as ErrCacheMiss; use IsCacheMiss to test for it.
*/
package cache
