package profile

import (
	"os"
	"sort"
	"sync"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/bmgjson"
	"gopkg.in/yaml.v3"
)

// Provider returns the current profile of a function, or nil when the function is unknown.
type Provider interface {
	Get(functionName string) *FunctionProfile
}

// StaticProfileProvider is an in-memory profile set.
type StaticProfileProvider struct {
	mu       sync.RWMutex
	profiles map[string]*FunctionProfile
}

func NewStaticProfileProvider(profiles ...*FunctionProfile) *StaticProfileProvider {
	provider := &StaticProfileProvider{
		profiles: make(map[string]*FunctionProfile),
	}
	for _, fp := range profiles {
		provider.Set(fp)
	}
	return provider
}

func (provider *StaticProfileProvider) Get(functionName string) *FunctionProfile {
	provider.mu.RLock()
	defer provider.mu.RUnlock()
	return provider.profiles[functionName]
}

// Set replaces the whole profile. Profiles are never modified in place.
func (provider *StaticProfileProvider) Set(fp *FunctionProfile) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	provider.profiles[fp.Name] = fp
}

func (provider *StaticProfileProvider) Delete(functionName string) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	delete(provider.profiles, functionName)
}

func (provider *StaticProfileProvider) Names() []string {
	provider.mu.RLock()
	defer provider.mu.RUnlock()
	names := make([]string, 0, len(provider.profiles))
	for name := range provider.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type profileFileYaml struct {
	Profiles []*bmgjson.FunctionProfileJson `yaml:"profiles"`
}

// LoadProfileFile reads a yaml file of the form `profiles: [...]`. Panics on a missing or broken file.
func LoadProfileFile(path string) *StaticProfileProvider {
	content, err := os.ReadFile(path)
	if err != nil {
		panic(kerror.Wrap(err, "ProfileFileError", "failed to read profile file", false).With("path", path))
	}
	var file profileFileYaml
	if err := yaml.Unmarshal(content, &file); err != nil {
		panic(kerror.Wrap(err, "ProfileFileError", "failed to parse profile file", false).With("path", path))
	}
	provider := NewStaticProfileProvider()
	for i, obj := range file.Profiles {
		if obj == nil || obj.Name == "" {
			panic(kerror.Create("ProfileFileError", "profile without name").With("path", path).With("index", i))
		}
		provider.Set(FunctionProfileJsonToProfile(obj))
	}
	return provider
}
