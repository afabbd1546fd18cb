/*
Package cache implements the tiered caching and optimization engine.

This package provides a multi-level cache hierarchy with byte-accounted
capacity enforcement, access pattern analysis, and rule-based optimization
recommendations. Named caches are owned by a Registry that routes
operations, aggregates global metrics, and reclaims low-priority caches
under process-wide memory or disk pressure.

# Architecture

Per-cache component stack, one per registered name:

	┌─────────────────────────────────────────────┐
	│                 Registry                    │
	│   (routing, global budget, remediation)     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│                 Manager                     │
	│   (lifecycle, maintenance, auto-optimize)   │
	└─────────────────────────────────────────────┘
	          │                        │
	┌──────────────────────┐ ┌─────────────────────┐
	│   MultiLevelCache    │ │   PatternAnalyzer   │
	│  (tier coordination, │ │  (hot keys, freq.,  │
	│   promotion, stats)  │ │   sequences)        │
	└──────────────────────┘ └─────────────────────┘
	     │           │                 │
	┌─────────┐ ┌─────────┐  ┌─────────────────────┐
	│ L1:     │ │ L2:     │  │     Optimizer       │
	│ Memory  │ │ Disk    │  │  (recommendation    │
	│ (LRU)   │ │ (blobs) │  │   rules)            │
	└─────────┘ └─────────┘  └─────────────────────┘

# Tiers

L1 (MemoryTier):
- In-memory LRU bounded by entry count and total bytes
- Per-entry TTL, discovered lazily on access and swept periodically
- Eviction runs before insertion; a successful Put never over-commits

L2 (DiskTier):
- One blob file per key plus a JSON metadata index
- Survives restarts; unreadable blobs self-heal to a miss
- Background index sync and expiry sweep goroutines

Lookups walk L1 then L2; a lower-tier hit is promoted upward so
subsequent accesses are served from memory.

# Optimization

The PatternAnalyzer accumulates access events into a bounded ring and
derives hot-key rankings, trailing-hour frequency, next-access
predictions, and key-follows-key sequences. The Optimizer turns those
signals plus a metrics snapshot into ranked recommendations (resize,
strategy change, cleanup, preload). Cheap high-impact cleanup and
preload recommendations can be applied automatically; structural
changes stay advisory.

# Concurrency

Every component is safe for concurrent use. Tiers serialize behind their
own mutex; the manager's maintenance tick and the registry's remediation
tick run on dedicated goroutines stopped via their owner's Close/Stop.
No goroutine ever holds two components' locks at once.
*/
package cache
