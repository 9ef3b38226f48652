// Package crawler defines the domain model, job types, interfaces and retry
// policies shared by the harvest pipeline: package and release records, wheel
// dependency entries, fetch jobs and their terminal results.
package crawler
