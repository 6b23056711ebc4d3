// Package msgb provides message buffers with reserved headroom and a bounded
// pool that allocates them. Buffers are freed exactly once; exhaustion and
// double frees are reported as errors and counted.
package msgb
