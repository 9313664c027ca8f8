// Package tracks owns the track store of the tactical picture.
//
// Responsibilities: conversion of radar detections into the local
// east-north-up frame, greedy nearest-neighbour association, alpha-beta
// filtering, track lifecycle (spawn, coast, prune) and per-track quality
// and IFF classification.
// Key types: Detection, Track, Store.
//
// The store is single-writer. Callers receive value copies of tracks and
// never share state with it.
package tracks
