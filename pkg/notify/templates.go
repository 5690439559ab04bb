package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"path/filepath"
	"strings"
	"sync"
	texttemplate "text/template"

	"github.com/fsnotify/fsnotify"

	"github.com/elbethel/academy/pkg/observability"
)

//go:embed templates/*.html templates/*.txt
var embedded embed.FS

var templateFuncs = map[string]interface{}{
	"upper": strings.ToUpper,
}

// Templates renders email bodies. Embedded defaults can be overridden file by
// file from a directory; Watch reloads the overrides when they change.
type Templates struct {
	dir    string
	logger *observability.Logger

	mu   sync.RWMutex
	html *htmltemplate.Template
	text *texttemplate.Template
}

// LoadTemplates parses the embedded templates and any overrides in dir (may be empty)
func LoadTemplates(dir string, logger *observability.Logger) (*Templates, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	t := &Templates{dir: dir, logger: logger}
	if err := t.reload(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Templates) reload() error {
	html, err := htmltemplate.New("email").Funcs(templateFuncs).ParseFS(embedded, "templates/*.html")
	if err != nil {
		return fmt.Errorf("failed to parse embedded html templates: %w", err)
	}
	text, err := texttemplate.New("email").Funcs(templateFuncs).ParseFS(embedded, "templates/*.txt")
	if err != nil {
		return fmt.Errorf("failed to parse embedded text templates: %w", err)
	}

	if t.dir != "" {
		if matches, _ := filepath.Glob(filepath.Join(t.dir, "*.html")); len(matches) > 0 {
			if html, err = html.ParseFiles(matches...); err != nil {
				return fmt.Errorf("failed to parse html overrides: %w", err)
			}
		}
		if matches, _ := filepath.Glob(filepath.Join(t.dir, "*.txt")); len(matches) > 0 {
			if text, err = text.ParseFiles(matches...); err != nil {
				return fmt.Errorf("failed to parse text overrides: %w", err)
			}
		}
	}

	t.mu.Lock()
	t.html, t.text = html, text
	t.mu.Unlock()
	return nil
}

// Render executes "<name>.txt" and "<name>.html"; a missing variant renders empty
func (t *Templates) Render(name string, data interface{}) (text, html string, err error) {
	t.mu.RLock()
	htmlSet, textSet := t.html, t.text
	t.mu.RUnlock()

	if tmpl := textSet.Lookup(name + ".txt"); tmpl != nil {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return "", "", fmt.Errorf("failed to render %s.txt: %w", name, err)
		}
		text = buf.String()
	}
	if tmpl := htmlSet.Lookup(name + ".html"); tmpl != nil {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return "", "", fmt.Errorf("failed to render %s.html: %w", name, err)
		}
		html = buf.String()
	}
	if text == "" && html == "" {
		return "", "", fmt.Errorf("no template named %q", name)
	}
	return text, html, nil
}

// Watch reloads overrides whenever a template file in the directory changes.
// It blocks until ctx is done. A failed reload keeps the previous templates.
func (t *Templates) Watch(ctx context.Context) error {
	if t.dir == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create template watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(t.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", t.dir, err)
	}
	t.logger.WithField("dir", t.dir).Info("Watching email template overrides")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			ext := filepath.Ext(event.Name)
			if ext != ".html" && ext != ".txt" {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := t.reload(); err != nil {
				t.logger.WithError(err).WithField("file", event.Name).Error("Email template reload failed")
				continue
			}
			t.logger.WithField("file", event.Name).Info("Email templates reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.WithError(err).Warn("Template watcher error")
		}
	}
}
