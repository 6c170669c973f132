package tools

import "sync"

// Registry holds the current tool settings. Scanners read from it on every
// invocation so a config reload takes effect for the next tool run.
type Registry struct {
	configs      map[string]ToolConfig
	templatesDir string
	mutex        sync.RWMutex
}

func NewRegistry(settings Settings) *Registry {
	r := &Registry{}
	r.Update(settings)
	return r
}

// Update replaces the settings. Tools missing from settings keep their
// defaults.
func (r *Registry) Update(settings Settings) {
	configs := DefaultSettings().Tools
	for name, tc := range settings.Tools {
		if tc.Name == "" {
			tc.Name = name
		}
		configs[name] = tc
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.configs = configs
	r.templatesDir = settings.TemplatesDir
}

func (r *Registry) GetToolConfig(name string) ToolConfig {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	tc, ok := r.configs[name]
	if !ok {
		return ToolConfig{Name: name, Path: name}
	}
	tc.Args = append([]string(nil), tc.Args...)
	return tc
}

func (r *Registry) TemplatesDir() string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.templatesDir
}

// Settings returns a copy of the current settings.
func (r *Registry) Settings() Settings {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	s := Settings{Tools: make(map[string]ToolConfig, len(r.configs)), TemplatesDir: r.templatesDir}
	for name, tc := range r.configs {
		tc.Args = append([]string(nil), tc.Args...)
		s.Tools[name] = tc
	}
	return s
}
