// Package store defines the persistence contracts consumed by the queue
// worker and the transfer manager, together with the sentinel errors all
// implementations map their failures onto. The durable records are the
// single source of truth: callers hold ids and transient handles, never a
// second copy of a record.
package store
