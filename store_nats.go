package tracecache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	natsScalarMarker = "trace-v1"
	natsListMarker   = "trace-list-v1"

	natsUpdateMaxAttempts = 16
)

// NATSKeyValue captures the subset of nats.KeyValue used by the store.
type NATSKeyValue interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
	Create(key string, value []byte) (uint64, error)
	Update(key string, value []byte, last uint64) (uint64, error)
	Delete(key string, opts ...nats.DeleteOpt) error
	Purge(key string, opts ...nats.DeleteOpt) error
	ListKeys(opts ...nats.WatchOpt) (nats.KeyLister, error)
}

// natsStore wraps every value in a JSON envelope: JetStream KV has no
// per-key TTL, no server-side increment and no list primitive, so expiry is
// checked on read and counters/lists go through Create/Update
// optimistic-revision retry loops.
type natsStore struct {
	kv     NATSKeyValue
	prefix string
}

type natsScalar struct {
	Marker    string `json:"m"`
	Value     []byte `json:"v"`
	ExpiresAt int64  `json:"ea"`
}

type natsList struct {
	Marker  string   `json:"m"`
	Entries [][]byte `json:"l"`
}

func newNATSStore(kv NATSKeyValue, prefix string) Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &natsStore{
		kv:     kv,
		prefix: prefix,
	}
}

func (s *natsStore) Driver() Driver { return DriverNATS }

func (s *natsStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s.kv == nil {
		return nil, false, errors.New("nats store key-value unavailable")
	}
	storeKey := s.storeKey(key)
	scalar, _, ok, err := s.getScalar(storeKey)
	if err != nil || !ok {
		return nil, false, err
	}
	return cloneBytes(scalar.Value), true, nil
}

func (s *natsStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s.kv == nil {
		return errors.New("nats store key-value unavailable")
	}
	body, err := encodeNATSScalar(value, ttl)
	if err != nil {
		return err
	}
	_, err = s.kv.Put(s.storeKey(key), body)
	return err
}

func (s *natsStore) Increment(_ context.Context, key string, delta int64) (int64, error) {
	if s.kv == nil {
		return 0, errors.New("nats store key-value unavailable")
	}
	storeKey := s.storeKey(key)
	for attempt := 0; attempt < natsUpdateMaxAttempts; attempt++ {
		scalar, revision, ok, err := s.getScalar(storeKey)
		if err != nil {
			return 0, err
		}
		current := int64(0)
		if ok {
			current, err = strconv.ParseInt(string(scalar.Value), 10, 64)
			if err != nil {
				return 0, errParseKey(key)
			}
		}
		next := current + delta
		body, err := encodeNATSScalar([]byte(strconv.FormatInt(next, 10)), 0)
		if err != nil {
			return 0, err
		}
		done, err := s.write(storeKey, body, revision)
		if err != nil {
			return 0, err
		}
		if done {
			return next, nil
		}
	}
	return 0, errors.New("nats increment exceeded retry limit")
}

func (s *natsStore) ListAppend(_ context.Context, key string, value []byte) (int64, error) {
	if s.kv == nil {
		return 0, errors.New("nats store key-value unavailable")
	}
	storeKey := s.storeKey(key)
	for attempt := 0; attempt < natsUpdateMaxAttempts; attempt++ {
		list, revision, err := s.getList(storeKey)
		if err != nil {
			return 0, err
		}
		list.Entries = append(list.Entries, cloneBytes(value))
		body, err := json.Marshal(natsList{Marker: natsListMarker, Entries: list.Entries})
		if err != nil {
			return 0, fmt.Errorf("marshal nats list envelope: %w", err)
		}
		done, err := s.write(storeKey, body, revision)
		if err != nil {
			return 0, err
		}
		if done {
			return int64(len(list.Entries)), nil
		}
	}
	return 0, errors.New("nats list append exceeded retry limit")
}

func (s *natsStore) ListRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	if s.kv == nil {
		return nil, errors.New("nats store key-value unavailable")
	}
	list, _, err := s.getList(s.storeKey(key))
	if err != nil {
		return nil, err
	}
	lo, hi := rangeBounds(int64(len(list.Entries)), start, stop)
	out := make([][]byte, 0, hi-lo)
	for _, entry := range list.Entries[lo:hi] {
		out = append(out, cloneBytes(entry))
	}
	return out, nil
}

func (s *natsStore) Delete(_ context.Context, key string) error {
	if s.kv == nil {
		return errors.New("nats store key-value unavailable")
	}
	err := s.kv.Delete(s.storeKey(key))
	if isNATSMiss(err) {
		return nil
	}
	return err
}

func (s *natsStore) Flush(_ context.Context) error {
	if s.kv == nil {
		return errors.New("nats store key-value unavailable")
	}
	lister, err := s.kv.ListKeys(nats.IgnoreDeletes())
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil
		}
		return err
	}
	defer func() { _ = lister.Stop() }()

	scopePrefix := s.scopePrefix()
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, scopePrefix) {
			continue
		}
		if err := s.kv.Purge(key); err != nil && !isNATSMiss(err) {
			return err
		}
	}
	return nil
}

// getScalar returns the decoded envelope, its revision and whether the key
// holds a live (unexpired) scalar.
func (s *natsStore) getScalar(storeKey string) (natsScalar, uint64, bool, error) {
	entry, err := s.kv.Get(storeKey)
	if isNATSMiss(err) {
		return natsScalar{}, 0, false, nil
	}
	if err != nil {
		return natsScalar{}, 0, false, err
	}
	if entry.Operation() == nats.KeyValueDelete || entry.Operation() == nats.KeyValuePurge {
		return natsScalar{}, 0, false, nil
	}
	var scalar natsScalar
	if err := json.Unmarshal(entry.Value(), &scalar); err != nil {
		return natsScalar{}, 0, false, fmt.Errorf("decode nats scalar envelope: %w", err)
	}
	if scalar.Marker != natsScalarMarker {
		return natsScalar{}, 0, false, fmt.Errorf("unexpected nats envelope marker %q", scalar.Marker)
	}
	if scalar.ExpiresAt > 0 && time.Now().UnixMilli() > scalar.ExpiresAt {
		_ = s.kv.Purge(storeKey)
		return natsScalar{}, 0, false, nil
	}
	return scalar, entry.Revision(), true, nil
}

func (s *natsStore) getList(storeKey string) (natsList, uint64, error) {
	entry, err := s.kv.Get(storeKey)
	if isNATSMiss(err) {
		return natsList{Marker: natsListMarker}, 0, nil
	}
	if err != nil {
		return natsList{}, 0, err
	}
	if entry.Operation() == nats.KeyValueDelete || entry.Operation() == nats.KeyValuePurge {
		return natsList{Marker: natsListMarker}, 0, nil
	}
	var list natsList
	if err := json.Unmarshal(entry.Value(), &list); err != nil {
		return natsList{}, 0, fmt.Errorf("decode nats list envelope: %w", err)
	}
	if list.Marker != natsListMarker {
		return natsList{}, 0, fmt.Errorf("unexpected nats envelope marker %q", list.Marker)
	}
	return list, entry.Revision(), nil
}

// write creates or updates at the observed revision. A false return means the
// revision moved underneath us and the caller should retry.
func (s *natsStore) write(storeKey string, body []byte, revision uint64) (bool, error) {
	if revision == 0 {
		_, err := s.kv.Create(storeKey, body)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, nats.ErrKeyExists) {
			return false, nil
		}
		return false, err
	}
	_, err := s.kv.Update(storeKey, body, revision)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, nats.ErrKeyExists) || isNATSMiss(err) {
		return false, nil
	}
	return false, err
}

func (s *natsStore) storeKey(key string) string {
	return s.scopePrefix() + encodeNATSKeyPart(key)
}

func (s *natsStore) scopePrefix() string {
	return "p." + encodeNATSKeyPart(s.prefix) + ".k."
}

func encodeNATSScalar(value []byte, ttl time.Duration) ([]byte, error) {
	scalar := natsScalar{
		Marker: natsScalarMarker,
		Value:  cloneBytes(value),
	}
	if ttl > 0 {
		scalar.ExpiresAt = time.Now().Add(ttl).UnixMilli()
	}
	body, err := json.Marshal(scalar)
	if err != nil {
		return nil, fmt.Errorf("marshal nats scalar envelope: %w", err)
	}
	return body, nil
}

func isNATSMiss(err error) bool {
	return errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted)
}

// NATS keys are restricted to a narrow charset, so key parts (which may hold
// URLs or arbitrary identities) are base64-encoded.
func encodeNATSKeyPart(part string) string {
	if part == "" {
		return "_"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(part))
}
