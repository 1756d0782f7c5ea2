package render

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ErrTemplateNotFound is returned when no template matches the requested
// name.
var ErrTemplateNotFound = errors.New("template not found")

// TemplateArg is one resolved (parameter, value) pair passed to a card
// template.
type TemplateArg struct {
	Parameter string
	Value     string
}

// Provider resolves a named card template with argument substitution.
type Provider interface {
	Render(name string, args []TemplateArg) (string, error)
}

// CardTemplate is a YAML-mappable card definition. Fields may contain Go
// template expressions over the argument map.
type CardTemplate struct {
	Name     string   `yaml:"name"`
	Title    string   `yaml:"title"`
	Subtitle string   `yaml:"subtitle"`
	Text     string   `yaml:"text"`
	Buttons  []string `yaml:"buttons"`
}

// FileProvider loads card templates from a directory of YAML files and
// optionally hot-reloads them.
type FileProvider struct {
	dir string

	mu        sync.RWMutex
	templates map[string]CardTemplate
	parsed    sync.Map
}

var _ Provider = (*FileProvider)(nil)

// NewFileProvider creates a template provider for the given directory.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{
		dir:       dir,
		templates: make(map[string]CardTemplate),
	}
}

// LoadAll loads all .yaml and .yml template files from the directory.
func (p *FileProvider) LoadAll() error {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return fmt.Errorf("read template dir %q: %w", p.dir, err)
	}

	result := make(map[string]CardTemplate)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(p.dir, entry.Name()))
		if err != nil {
			return err
		}
		var ct CardTemplate
		if err := yaml.Unmarshal(data, &ct); err != nil {
			return fmt.Errorf("parse template %q: %w", entry.Name(), err)
		}
		if ct.Name == "" {
			ct.Name = strings.TrimSuffix(entry.Name(), ext)
		}
		result[ct.Name] = ct
	}

	p.mu.Lock()
	p.templates = result
	p.mu.Unlock()
	p.parsed = sync.Map{}
	return nil
}

// Add registers a template directly, useful for tests and embedded setups.
func (p *FileProvider) Add(ct CardTemplate) {
	p.mu.Lock()
	p.templates[ct.Name] = ct
	p.mu.Unlock()
}

// Render resolves the named template against the argument values.
func (p *FileProvider) Render(name string, args []TemplateArg) (string, error) {
	p.mu.RLock()
	ct, ok := p.templates[name]
	p.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}

	data := make(map[string]string, len(args))
	for _, a := range args {
		data[a.Parameter] = a.Value
	}

	var b strings.Builder
	for _, field := range []string{ct.Title, ct.Subtitle, ct.Text} {
		if field == "" {
			continue
		}
		line, err := p.execute(field, data)
		if err != nil {
			return "", err
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
	}
	for _, btn := range ct.Buttons {
		line, err := p.execute(btn, data)
		if err != nil {
			return "", err
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[" + line + "]")
	}
	return b.String(), nil
}

func (p *FileProvider) execute(tmplStr string, data map[string]string) (string, error) {
	var tmpl *template.Template
	if cached, ok := p.parsed.Load(tmplStr); ok {
		tmpl = cached.(*template.Template)
	} else {
		var err error
		tmpl, err = template.New("").Option("missingkey=zero").Parse(tmplStr)
		if err != nil {
			return "", err
		}
		p.parsed.Store(tmplStr, tmpl)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WatchAndReload watches the template directory for changes and reloads.
// This blocks until the done channel is closed.
func (p *FileProvider) WatchAndReload(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(p.dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", p.dir, err)
	}

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				ext := filepath.Ext(event.Name)
				if ext == ".yaml" || ext == ".yml" {
					p.LoadAll()
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
