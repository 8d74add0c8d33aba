package providers

import (
	"fmt"
	"strings"
)

// ProviderRef names a provider binding as "provider:model". Raw is the
// attributable identifier recorded as model_used.
type ProviderRef struct {
	Raw   string
	Name  string
	Model string
}

func (r ProviderRef) String() string {
	return r.Raw
}

func ParseProviderRef(raw string) (ProviderRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ProviderRef{}, fmt.Errorf("empty provider ref")
	}
	ref := ProviderRef{Raw: raw}
	if strings.Contains(raw, ":") {
		x := strings.SplitN(raw, ":", 2)
		ref.Name = strings.ToLower(strings.TrimSpace(x[0]))
		ref.Model = strings.TrimSpace(x[1])
	} else {
		ref.Name = strings.ToLower(raw)
	}
	if ref.Name == "" {
		return ProviderRef{}, fmt.Errorf("provider ref %q has no provider name", raw)
	}
	return ref, nil
}
