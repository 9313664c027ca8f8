// Package pipeline runs one tactical-picture tick per incoming frame.
//
// This package is the composition root: it imports the stage packages
// (tracks, guard, situation, render) and the events sink, but none of those
// packages import pipeline/. Stages run in fixed order on the caller's
// goroutine; each tick returns an immutable Snapshot.
package pipeline
