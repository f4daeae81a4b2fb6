// Package queue serializes work per key: tasks enqueued under the same
// key run one at a time in submission order; distinct keys run freely.
package queue
