// Package profiles provides the vendor command and normalization registry.
package profiles

import (
	"regexp"
	"slices"
	"sort"
	"sync"

	"github.com/fgeck/goswitch-backup/internal/models"
)

// Generic is the device type used when a switch's type is unknown.
const Generic = "generic"

// Registry maps device types to profiles. It is read-only after construction.
type Registry struct {
	profiles map[string]models.DeviceProfile
}

// NewRegistry creates a registry from the given profiles. Later profiles replace
// earlier ones with the same device type.
func NewRegistry(profiles ...models.DeviceProfile) *Registry {
	r := &Registry{profiles: make(map[string]models.DeviceProfile, len(profiles))}
	for _, p := range profiles {
		r.profiles[p.DeviceType] = p
	}
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry of built-in vendor profiles.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(builtinProfiles()...)
	})
	return defaultRegistry
}

// Lookup returns the profile for a device type.
func (r *Registry) Lookup(deviceType string) (models.DeviceProfile, bool) {
	p, ok := r.profiles[deviceType]
	if !ok {
		return models.DeviceProfile{}, false
	}
	return clone(p), true
}

// Resolve returns the profile for a device type, falling back to the generic profile.
// The boolean reports whether the device type itself was found.
func (r *Registry) Resolve(deviceType string) (models.DeviceProfile, bool) {
	if p, ok := r.Lookup(deviceType); ok {
		return p, true
	}
	p, _ := r.Lookup(Generic)
	return p, false
}

// Types returns the registered device types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.profiles))
	for t := range r.profiles {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func clone(p models.DeviceProfile) models.DeviceProfile {
	p.RunningCommands = slices.Clone(p.RunningCommands)
	p.NormalizationRules = slices.Clone(p.NormalizationRules)
	p.ErrorPatterns = slices.Clone(p.ErrorPatterns)
	p.MissingStartupMarkers = slices.Clone(p.MissingStartupMarkers)
	return p
}

// Remove returns a rule dropping every line that matches pattern.
func Remove(name, pattern string) models.NormalizationRule {
	return models.NormalizationRule{Name: name, Pattern: regexp.MustCompile(pattern), Remove: true}
}

// Substitute returns a rule replacing matches of pattern with replacement.
func Substitute(name, pattern, replacement string) models.NormalizationRule {
	return models.NormalizationRule{Name: name, Pattern: regexp.MustCompile(pattern), Replacement: replacement}
}
