/*
Package observability turns engine lifecycle hooks into signals.

Metrics records prometheus counters and histograms; LogHooks writes one
structured log line per event. Both return domain.LifecycleHooks and can be
combined with LifecycleHooks.Merge.
*/
package observability
