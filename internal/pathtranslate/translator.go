// Package pathtranslate implements PathTranslator (§4.H): translating
// container-local paths to host paths for bind mounts, and exposing the
// broker's own published port bindings.
package pathtranslate

import (
	"context"
	"strings"

	"github.com/streamspace/sealskin/internal/containerruntime"
)

// Translator holds the container-path -> host-path pairs discovered at
// startup, and the broker's own published ports.
type Translator struct {
	mounts []containerruntime.SelfMount
	ports  []containerruntime.PortBinding
}

// Discover inspects the broker's own container (if running containerised)
// via runtime.InspectSelf.
func Discover(ctx context.Context, runtime containerruntime.Runtime) (*Translator, error) {
	info, err := runtime.InspectSelf(ctx)
	if err != nil {
		return nil, err
	}
	return &Translator{mounts: info.Mounts, ports: info.Ports}, nil
}

// Translate rewrites an internal path P by selecting the longest
// container-path prefix X such that P == X or P starts with X + "/", and
// substituting host(X) for X. Returns P unchanged if no prefix matches.
func (t *Translator) Translate(p string) string {
	bestLen := -1
	bestHost := ""
	bestContainer := ""
	for _, m := range t.mounts {
		cp := m.ContainerPath
		if p == cp || strings.HasPrefix(p, cp+"/") {
			if len(cp) > bestLen {
				bestLen = len(cp)
				bestHost = m.HostPath
				bestContainer = cp
			}
		}
	}
	if bestLen == -1 {
		return p
	}
	return bestHost + p[len(bestContainer):]
}

// Ports returns the discovered host-published port bindings for the
// broker's own listeners, exposed to the control-plane /admin/data endpoint.
func (t *Translator) Ports() []containerruntime.PortBinding {
	return t.ports
}
