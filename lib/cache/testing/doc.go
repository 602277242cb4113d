// Package testing provides standardised tests and benchmarks for cache
// engines that satisfy the cache.ICache interface.
//
// The package contains:
//   - testing: A test suite for validating conformance to the ICache contract
//   - benchmark: Performance tests for the common cache operations
//
// Example usage:
//
//	factory := func() cache.ICache {
//		return NewMyEngine()
//	}
//
//	cachetesting.RunCacheTests(t, "MyEngine", factory)
//	cachetesting.RunCacheBenchmarks(b, "MyEngine", factory)
package testing
