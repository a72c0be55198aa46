package embedding

import "github.com/hrygo/assetvault/store"

// transitions lists the allowed embedding status changes.
//
//	pending    -> processing   queued
//	processing -> completed    vector stored
//	processing -> failed       retries exhausted
//	failed     -> pending      bulk retry
//	completed  -> processing   manual re-embed
var transitions = map[store.EmbeddingStatus][]store.EmbeddingStatus{
	store.EmbeddingStatusPending:    {store.EmbeddingStatusProcessing},
	store.EmbeddingStatusProcessing: {store.EmbeddingStatusCompleted, store.EmbeddingStatusFailed},
	store.EmbeddingStatusFailed:     {store.EmbeddingStatusPending},
	store.EmbeddingStatusCompleted:  {store.EmbeddingStatusProcessing},
}

// CanTransition reports whether an asset may move from one embedding status to another.
func CanTransition(from, to store.EmbeddingStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every status that may transition to to.
func sourcesOf(to store.EmbeddingStatus) []store.EmbeddingStatus {
	sources := []store.EmbeddingStatus{}
	for _, from := range store.EmbeddingStatuses {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}
