package route

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/CERT-Polska/n6-sub011/errors"
	"github.com/CERT-Polska/n6-sub011/natsclient"
)

// BucketName is the KV bucket the authorization collaborator writes
// organization criteria into, one JSON record per org id.
const BucketName = "n6-orgs"

// DefaultRefreshInterval bounds how stale a snapshot can get when no
// change notification arrives.
const DefaultRefreshInterval = 10 * time.Minute

// CriteriaKV is the KV surface the loader needs. Satisfied by
// *natsclient.KVStore.
type CriteriaKV interface {
	Keys(ctx context.Context) ([]string, error)
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Watch(ctx context.Context, pattern string) (jetstream.KeyWatcher, error)
}

// Loader maintains the current criteria snapshot: a full load at start,
// watch-triggered reloads on change, and a periodic refresh as a backstop.
// Snapshots swap atomically; readers never block.
type Loader struct {
	kv      CriteriaKV
	logger  *slog.Logger
	refresh time.Duration

	snap atomic.Pointer[Snapshot]
}

// NewLoader creates a Loader on an existing KV view.
func NewLoader(kv CriteriaKV, logger *slog.Logger, refresh time.Duration) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}
	l := &Loader{kv: kv, logger: logger, refresh: refresh}
	l.snap.Store(NewSnapshot(nil))
	return l
}

// OpenLoader creates (or reuses) the criteria bucket on the client,
// performs the initial load, and returns a ready Loader.
func OpenLoader(ctx context.Context, client *natsclient.Client, logger *slog.Logger, refresh time.Duration) (*Loader, error) {
	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: BucketName,
	})
	if err != nil {
		return nil, errors.Wrap(err, "route", "OpenLoader", "create bucket")
	}

	l := NewLoader(client.NewKVStore(bucket), logger, refresh)
	if err := l.Load(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Snapshot returns the current criteria snapshot. Never nil.
func (l *Loader) Snapshot() *Snapshot {
	return l.snap.Load()
}

// Load reads every criteria record and swaps in a fresh snapshot.
// Malformed records are logged and skipped; one bad org must not take
// routing down for all the others.
func (l *Loader) Load(ctx context.Context) error {
	keys, err := l.kv.Keys(ctx)
	if err != nil {
		return errors.WrapTransient(err, "Loader", "Load", "list criteria keys")
	}

	orgs := make([]*OrgCriteria, 0, len(keys))
	for _, key := range keys {
		entry, err := l.kv.Get(ctx, key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue // deleted between Keys and Get
			}
			return errors.WrapTransient(err, "Loader", "Load", "get criteria "+key)
		}

		org, err := ParseOrgCriteria(entry.Value)
		if err != nil {
			l.logger.Error("Skipping malformed criteria record",
				"org", key, "error", err)
			continue
		}
		orgs = append(orgs, org)
	}

	l.snap.Store(NewSnapshot(orgs))
	l.logger.Info("Criteria snapshot loaded", "orgs", len(orgs))
	return nil
}

// Run keeps the snapshot current until ctx is cancelled: a KV watch
// catches explicit changes, the refresh ticker catches anything missed.
func (l *Loader) Run(ctx context.Context) error {
	watcher, err := l.kv.Watch(ctx, ">")
	if err != nil {
		return errors.WrapTransient(err, "Loader", "Run", "watch criteria bucket")
	}
	defer func() { _ = watcher.Stop() }()

	ticker := time.NewTicker(l.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry := <-watcher.Updates():
			// nil marks the end of the initial replay; the start-up Load
			// already covered it.
			if entry == nil {
				continue
			}
			l.logger.Debug("Criteria change notification", "org", entry.Key())
			if err := l.reload(ctx); err != nil {
				return err
			}
		case <-ticker.C:
			if err := l.reload(ctx); err != nil {
				return err
			}
		}
	}
}

// reload retries a failed load instead of serving a stale snapshot
// forever; transient KV errors only log.
func (l *Loader) reload(ctx context.Context) error {
	err := l.Load(ctx)
	if err == nil || errors.IsTransient(err) {
		if err != nil {
			l.logger.Warn("Criteria reload failed, keeping previous snapshot", "error", err)
		}
		return nil
	}
	return err
}
