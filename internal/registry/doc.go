// Package registry talks to the Python Package Index: the PEP 691 simple
// listing, the per-package JSON documents and the wheel artifacts on the
// files host. Every request is retried according to a crawler.RetryPolicy
// until it succeeds, is answered with 404, or the context ends.
package registry
