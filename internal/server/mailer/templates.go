package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"os"
)

const (
	TemplateConfirmEmail  = "confirm_email.html"
	TemplateResetPassword = "reset_password.html"
)

//go:embed templates/*.html
var embedded embed.FS

// LinkData is the context both bundled templates render.
type LinkData struct {
	Email    string
	Link     string
	ValidFor string
}

// Templates renders HTML mail bodies. Values are escaped by html/template.
type Templates struct {
	t *template.Template
}

// NewTemplates parses the bundled templates, or every *.html file in dir when
// dir is not empty.
func NewTemplates(dir string) (*Templates, error) {
	var fsys fs.FS
	if dir != "" {
		fsys = os.DirFS(dir)
	} else {
		sub, err := fs.Sub(embedded, "templates")
		if err != nil {
			return nil, err
		}
		fsys = sub
	}

	t, err := template.ParseFS(fsys, "*.html")
	if err != nil {
		return nil, fmt.Errorf("parse mail templates: %w", err)
	}
	return &Templates{t: t}, nil
}

func (t *Templates) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.t.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
