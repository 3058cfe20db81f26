// Package scheduler enforces per-brand throughput. Admission is bounded by a
// daily cap counted from UTC midnight; release from queued to rendering is
// bounded by a concurrency cap on in-flight records. Both checks run inside a
// single store statement so concurrent callers cannot overshoot.
package scheduler
