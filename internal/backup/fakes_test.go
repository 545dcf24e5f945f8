package backup_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"envbackup/internal/backup"
	"envbackup/internal/schedule"
	"envbackup/internal/shared"
)

// fakeClient is an in-memory remote API that records every call.
type fakeClient struct {
	mu    sync.Mutex
	envs  []backup.Environment
	calls []string

	listErr    error
	forkErr    map[schedule.Cadence]error
	destroyErr error

	// afterFork runs after a successful fork, outside the lock.
	afterFork func(newID string)
}

func newFakeClient(envs ...backup.Environment) *fakeClient {
	return &fakeClient{envs: envs, forkErr: map[schedule.Cadence]error{}}
}

func (f *fakeClient) ListEnvironments(context.Context) ([]backup.Environment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "list")
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]backup.Environment(nil), f.envs...), nil
}

func (f *fakeClient) ForkEnvironment(_ context.Context, sourceID, newID string) error {
	err := f.fork(sourceID, newID)
	if err == nil && f.afterFork != nil {
		f.afterFork(newID)
	}
	return err
}

func (f *fakeClient) fork(sourceID, newID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "fork "+sourceID+" "+newID)
	for c, err := range f.forkErr {
		if strings.HasPrefix(newID, c.EnvironmentPrefix()) {
			return err
		}
	}
	for _, e := range f.envs {
		if e.ID == newID {
			return shared.MarkKind(fmt.Errorf("environment %s already exists", newID), shared.KindConflict)
		}
	}
	f.envs = append(f.envs, backup.Environment{ID: newID, CreatedAt: time.Now().UTC()})
	return nil
}

func (f *fakeClient) DestroyEnvironment(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "destroy "+id)
	if f.destroyErr != nil {
		return f.destroyErr
	}
	for i, e := range f.envs {
		if e.ID == id {
			f.envs = append(f.envs[:i], f.envs[i+1:]...)
			return nil
		}
	}
	return shared.MarkKind(fmt.Errorf("environment %s", id), shared.KindNotFound)
}

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) factory() backup.ClientFactory {
	return func(string) backup.EnvironmentClient { return f }
}

// memStore is a map-backed record store.
type memStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	puts   map[string]int
	putErr error

	// ctxAware makes Put fail on a done context, like a network store.
	ctxAware bool
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, puts: map[string]int{}}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return v, nil
}

func (s *memStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	if s.ctxAware && ctx.Err() != nil {
		return ctx.Err()
	}
	s.data[key] = append([]byte(nil), value...)
	s.puts[key]++
	return nil
}

func (s *memStore) set(key, value string) { s.data[key] = []byte(value) }

// fakeLocker grants the lock unless held is set.
type fakeLocker struct {
	held     bool
	err      error
	released int
}

func (l *fakeLocker) TryLock(context.Context, string) (func(context.Context) error, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	return func(context.Context) error { l.released++; return nil }, true, nil
}

type recorded struct {
	passes   []string
	cadences map[schedule.Cadence]backup.ExecutionStatus
}

func (r *recorded) ObservePass(outcome string) { r.passes = append(r.passes, outcome) }

func (r *recorded) ObserveCadence(c schedule.Cadence, status backup.ExecutionStatus, _ time.Duration, _ time.Time) {
	if r.cadences == nil {
		r.cadences = map[schedule.Cadence]backup.ExecutionStatus{}
	}
	r.cadences[c] = status
}

type captureNotifier struct {
	got []backup.ScheduledBackupsRunResult
	err error
}

func (n *captureNotifier) NotifyFailures(_ context.Context, res backup.ScheduledBackupsRunResult) error {
	n.got = append(n.got, res)
	return n.err
}

var errRemote = errors.New("remote: 503 service unavailable")

func primary() backup.Environment { return backup.Environment{ID: "main", Primary: true} }
