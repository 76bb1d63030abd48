package containerruntime

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory Runtime used by component tests, per §9's
// "Swap via dependency injection; stubbed in tests."
type Fake struct {
	mu         sync.Mutex
	containers map[string]bool
	LaunchIP   string
	LaunchErr  error
	StopErr    error
	PullErr    error
	Digests    map[string][]string
	RemoteDig  string
	Self       SelfInfo

	LaunchCalls []LaunchSpec
	StopCalls   []string
}

// NewFake constructs a Fake runtime that launches containers at 127.0.0.1
// by default.
func NewFake() *Fake {
	return &Fake{
		containers: make(map[string]bool),
		LaunchIP:   "127.0.0.1",
		Digests:    make(map[string][]string),
	}
}

func (f *Fake) Pull(ctx context.Context, image string) error { return f.PullErr }

func (f *Fake) LocalInfo(ctx context.Context, image string) (LocalImageInfo, error) {
	digs, ok := f.Digests[image]
	if !ok {
		return LocalImageInfo{}, ErrImageNotPresent
	}
	return LocalImageInfo{ShortID: image, Digests: digs}, nil
}

func (f *Fake) RemoteDigest(ctx context.Context, image string) (string, error) {
	return f.RemoteDig, nil
}

func (f *Fake) Launch(ctx context.Context, spec LaunchSpec) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LaunchCalls = append(f.LaunchCalls, spec)
	if f.LaunchErr != nil {
		return "", "", f.LaunchErr
	}
	id := uuid.NewString()
	f.containers[id] = true
	return id, f.LaunchIP, nil
}

func (f *Fake) Stop(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StopCalls = append(f.StopCalls, instanceID)
	if f.StopErr != nil {
		return f.StopErr
	}
	delete(f.containers, instanceID)
	return nil
}

func (f *Fake) Exists(ctx context.Context, instanceID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.containers[instanceID], nil
}

func (f *Fake) InspectSelf(ctx context.Context) (SelfInfo, error) {
	return f.Self, nil
}

// Seed marks instanceID as an already-running container, for reconciliation tests.
func (f *Fake) Seed(instanceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[instanceID] = true
}
