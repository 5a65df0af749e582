// Package registry implements the "call" stage lookup: a single explicit
// registration API keyed by "<namespace>/<name>@<tag>" call descriptors,
// with no reflection involved.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cloudshipai/workflow-core/internal/param"
)

// ArgSpec describes one named argument a registered function accepts.
type ArgSpec struct {
	Name     string
	Type     string // one of the param.Kind strings; ValidateArgs coerces to it, empty leaves the value as given
	Required bool
}

// Signature is the typed call signature a registered function declares.
type Signature struct {
	Args  []ArgSpec
	Async bool
}

// Func is the invocable behind a call descriptor. args is the already
// coerced `with:` mapping.
type Func func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

// Descriptor bundles a signature with its invocable.
type Descriptor struct {
	Namespace string
	Name      string
	Tag       string
	Signature Signature
	Call      Func
}

// Registry is an immutable-after-startup table of call descriptors, keyed
// by "<namespace>/<name>@<tag>" (§6 "Registry (input)").
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Descriptor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Descriptor)}
}

// key builds the canonical lookup key for a namespace/name/tag triple.
func key(namespace, name, tag string) string {
	if tag == "" {
		tag = "latest"
	}
	return fmt.Sprintf("%s/%s@%s", namespace, name, tag)
}

// Register adds a callable descriptor under namespace/name@tag. Registering
// the same key twice overwrites the previous entry — call-time, not
// reflection-time, is where conflicts would be caught by a higher layer.
func (r *Registry) Register(namespace, name, tag string, sig Signature, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key(namespace, name, tag)] = &Descriptor{
		Namespace: namespace, Name: name, Tag: tag, Signature: sig, Call: fn,
	}
}

// ParseUses splits a "<namespace>/<name>@<tag>" identifier as used by the
// `call` stage's `uses` field (§3 Stage variants).
func ParseUses(uses string) (namespace, name, tag string, err error) {
	atIdx := strings.LastIndex(uses, "@")
	body := uses
	if atIdx >= 0 {
		body = uses[:atIdx]
		tag = uses[atIdx+1:]
	}
	slashIdx := strings.Index(body, "/")
	if slashIdx < 0 {
		return "", "", "", fmt.Errorf("invalid uses identifier %q: expected <namespace>/<name>[@tag]", uses)
	}
	namespace = body[:slashIdx]
	name = body[slashIdx+1:]
	if namespace == "" || name == "" {
		return "", "", "", fmt.Errorf("invalid uses identifier %q", uses)
	}
	return namespace, name, tag, nil
}

// Resolve looks up a descriptor for a "<namespace>/<name>@<tag>" uses
// string (§6 "Registry (input): the core only requires a resolve(uses)
// lookup").
func (r *Registry) Resolve(uses string) (*Descriptor, error) {
	namespace, name, tag, err := ParseUses(uses)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[key(namespace, name, tag)]
	if !ok {
		return nil, fmt.Errorf("no registered call for %q", uses)
	}
	return d, nil
}

// ValidateArgs coerces/validates a raw `with:` mapping against a
// descriptor's declared Signature, rejecting unknown or missing required
// arguments and coercing each argument whose ArgSpec.Type is set.
func ValidateArgs(sig Signature, with map[string]interface{}) (map[string]interface{}, error) {
	allowed := make(map[string]ArgSpec, len(sig.Args))
	for _, a := range sig.Args {
		allowed[a.Name] = a
	}
	for k := range with {
		if _, ok := allowed[k]; !ok {
			return nil, fmt.Errorf("unknown argument %q", k)
		}
	}
	missing := make([]string, 0)
	for _, a := range sig.Args {
		if a.Required {
			if _, ok := with[a.Name]; !ok {
				missing = append(missing, a.Name)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing required arguments: %s", strings.Join(missing, ", "))
	}
	coerced := make(map[string]interface{}, len(with))
	for k, v := range with {
		a := allowed[k]
		if a.Type == "" {
			coerced[k] = v
			continue
		}
		cv, err := param.Spec{Name: k, Type: param.Kind(a.Type)}.Coerce(v, nil)
		if err != nil {
			return nil, err
		}
		coerced[k] = cv
	}
	return coerced, nil
}

// Call invokes the resolved descriptor after validating args.
func (r *Registry) Call(ctx context.Context, uses string, with map[string]interface{}) (map[string]interface{}, error) {
	d, err := r.Resolve(uses)
	if err != nil {
		return nil, err
	}
	validated, err := ValidateArgs(d.Signature, with)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", uses, err)
	}
	return d.Call(ctx, validated)
}
