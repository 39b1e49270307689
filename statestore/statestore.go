// Package statestore persists resumable collector state in a process-external
// KV bucket. Values are opaque, strategy-specific JSON blobs keyed by
// collector identity; the absence of a value means "first run, no delta
// filtering".
//
// Commits are revision-checked: a collector loads state with its revision
// and commits against it, so a concurrently running duplicate of the same
// collector (which must never happen, but crashes and restarts do) is
// detected as a conflict instead of silently interleaving state.
package statestore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/CERT-Polska/n6-sub011/errors"
	"github.com/CERT-Polska/n6-sub011/natsclient"
)

// BucketName is the KV bucket holding collector state.
const BucketName = "n6-collector-state"

// KV is the slice of the KV store API the state store needs. Satisfied by
// *natsclient.KVStore; fakes implement it in tests.
type KV interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
}

// Store loads and commits per-collector state blobs.
type Store struct {
	kv     KV
	logger *slog.Logger
}

// New creates a Store on an existing KV view.
func New(kv KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger}
}

// Open creates (or reuses) the collector state bucket on the client and
// returns a Store bound to it.
func Open(ctx context.Context, client *natsclient.Client, logger *slog.Logger) (*Store, error) {
	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:  BucketName,
		History: 5,
	})
	if err != nil {
		return nil, errors.Wrap(err, "statestore", "Open", "create bucket")
	}
	return New(client.NewKVStore(bucket), logger), nil
}

// Load fetches the state blob for a collector. A missing key is not an
// error: it returns (nil, 0, nil), meaning first run.
func (s *Store) Load(ctx context.Context, collectorID string) (json.RawMessage, uint64, error) {
	entry, err := s.kv.Get(ctx, collectorID)
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			s.logger.Debug("No prior state, first run", "collector", collectorID)
			return nil, 0, nil
		}
		return nil, 0, errors.WrapTransient(err, "Store", "Load", "get state "+collectorID)
	}
	return entry.Value, entry.Revision, nil
}

// Commit writes the new state blob against the revision observed at Load.
// revision 0 means no prior state existed. A conflicting concurrent write
// surfaces as ErrStateConflict - the caller must abort, never overwrite.
func (s *Store) Commit(ctx context.Context, collectorID string, state any, revision uint64) error {
	value, err := json.Marshal(state)
	if err != nil {
		return errors.WrapFatal(err, "Store", "Commit", "marshal state")
	}

	if revision == 0 {
		_, err = s.kv.Create(ctx, collectorID, value)
	} else {
		_, err = s.kv.Update(ctx, collectorID, value, revision)
	}
	if err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.WrapFatal(errors.ErrStateConflict, "Store", "Commit",
				"concurrent state write for "+collectorID)
		}
		return errors.WrapTransient(err, "Store", "Commit", "write state "+collectorID)
	}

	s.logger.Debug("Committed collector state",
		"collector", collectorID, "bytes", len(value))
	return nil
}
