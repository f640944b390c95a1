package render

import (
	"bytes"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"os"
	"path/filepath"
	"strings"
	texttemplate "text/template"
)

// ErrTemplateNotFound is returned when no template triple exists for the
// requested name.
var ErrTemplateNotFound = errors.New("render: template not found")

// RenderError wraps a failure while executing a template that does exist.
type RenderError struct {
	Template string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render: template %q: %v", e.Template, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Rendered is the three renderable parts of one email.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

// Renderer produces subject/plaintext/HTML from a template name and a
// context mapping.
type Renderer interface {
	Render(name string, context map[string]any) (Rendered, error)
}

// FSRenderer resolves template names against a directory holding
// <name>.subject.txt, <name>.txt and <name>.html triples.
type FSRenderer struct {
	dir string
}

func NewFS(dir string) *FSRenderer {
	return &FSRenderer{dir: dir}
}

func (r *FSRenderer) Render(name string, context map[string]any) (Rendered, error) {
	// Template names come from stored payloads; never let them walk
	// out of the template directory.
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return Rendered{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}

	subject, err := r.renderText(name, name+".subject.txt", context)
	if err != nil {
		return Rendered{}, err
	}
	text, err := r.renderText(name, name+".txt", context)
	if err != nil {
		return Rendered{}, err
	}
	html, err := r.renderHTML(name, name+".html", context)
	if err != nil {
		return Rendered{}, err
	}

	return Rendered{
		Subject: strings.TrimSpace(subject),
		Text:    text,
		HTML:    html,
	}, nil
}

func (r *FSRenderer) renderText(name, file string, context map[string]any) (string, error) {
	path := filepath.Join(r.dir, file)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %q (missing %s)", ErrTemplateNotFound, name, file)
		}
		return "", &RenderError{Template: name, Err: err}
	}

	tmpl, err := texttemplate.New(file).Parse(string(raw))
	if err != nil {
		return "", &RenderError{Template: name, Err: err}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, context); err != nil {
		return "", &RenderError{Template: name, Err: err}
	}
	return buf.String(), nil
}

func (r *FSRenderer) renderHTML(name, file string, context map[string]any) (string, error) {
	path := filepath.Join(r.dir, file)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %q (missing %s)", ErrTemplateNotFound, name, file)
		}
		return "", &RenderError{Template: name, Err: err}
	}

	tmpl, err := htmltemplate.New(file).Parse(string(raw))
	if err != nil {
		return "", &RenderError{Template: name, Err: err}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, context); err != nil {
		return "", &RenderError{Template: name, Err: err}
	}
	return buf.String(), nil
}
