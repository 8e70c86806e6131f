// Package storage keeps a history of finished transcripts in badger.
package storage
