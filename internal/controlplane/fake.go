package controlplane

import (
	"context"
	"sync"
)

// Push is one recorded PushTokenState call, for record-and-replay tests.
type Push struct {
	IP          string
	MasterToken string
	Tokens      map[string]TokenState
}

// Fake records every push instead of making a network call.
type Fake struct {
	mu     sync.Mutex
	Pushes []Push
	Err    error
}

func NewFake() *Fake { return &Fake{} }

func (f *Fake) PushTokenState(ctx context.Context, ip, masterToken string, tokens map[string]TokenState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pushes = append(f.Pushes, Push{IP: ip, MasterToken: masterToken, Tokens: tokens})
	return f.Err
}

var _ Client = (*Fake)(nil)
