package storage

// Package storage persists the scheduler's durable documents.
//
// Every document (work queue, activity memory) is read and written whole:
// the callers own a read-modify-write cycle under their own lock, so this
// layer only guarantees that a Save is atomic and a Load returns the last
// completed Save.
