package render

import (
	"fmt"

	"github.com/vanng823/go-premailer/premailer"
)

// Inliner rewrites rendered HTML so styles survive clients that strip
// <style> blocks.
type Inliner interface {
	Inline(html string) (string, error)
}

// PremailerInliner inlines CSS with go-premailer.
type PremailerInliner struct{}

func (PremailerInliner) Inline(html string) (string, error) {
	p, err := premailer.NewPremailerFromString(html, premailer.NewOptions())
	if err != nil {
		return "", fmt.Errorf("render: css inline: %w", err)
	}
	out, err := p.Transform()
	if err != nil {
		return "", fmt.Errorf("render: css inline: %w", err)
	}
	return out, nil
}

// PassthroughInliner leaves HTML untouched, used in tests.
type PassthroughInliner struct{}

func (PassthroughInliner) Inline(html string) (string, error) {
	return html, nil
}
