// Package task implements the internal queue that drives asynchronous
// media-processing work (thumbnailing, transcoding, backups, cleanup)
// independently of the request/response cycle.
//
// Tasks are persisted to a durable TTL key/value store, ordered within
// per-queue ready sets by priority and submission order, gated on
// declared dependencies, and executed by a bounded worker pool under
// per-task timeouts with retry and exponential backoff. The Service
// type is the public control surface (submit, get, cancel, retry,
// list, queue stats) consumed by the surrounding CRUD layer.
package task
