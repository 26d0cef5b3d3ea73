// Package payload turns stored submissions into the bytes posted to a hook:
// extraction in the hook's format, subset filtering and template rendering.
package payload

import (
	"context"

	"github.com/shohag/formhook/internal/faults"
	"github.com/shohag/formhook/internal/models"
)

// Service extracts and renders submissions for one export format.
type Service interface {
	Format() models.ExportFormat
	ContentType() string
	Extract(ctx context.Context, src Source, form *models.Form, submissionID string) (*Content, error)
	Render(c *Content, subset []string, template string) ([]byte, error)
}

// ServiceFor selects the service of a hook's configured format.
func ServiceFor(format models.ExportFormat) (Service, error) {
	switch format {
	case models.FormatJSON:
		return JSONService{}, nil
	case models.FormatXML:
		return XMLService{}, nil
	}
	return nil, faults.NewUnsupportedFormat(string(format))
}

// Build extracts submissionID from src and renders it for hook.
func Build(ctx context.Context, src Source, hook *models.Hook, form *models.Form, submissionID string) ([]byte, error) {
	svc, err := ServiceFor(hook.Format)
	if err != nil {
		return nil, err
	}
	content, err := svc.Extract(ctx, src, form, submissionID)
	if err != nil {
		return nil, err
	}
	return svc.Render(content, hook.SubsetFields, hook.PayloadTemplate)
}

type JSONService struct{}

func (JSONService) Format() models.ExportFormat { return models.FormatJSON }

func (JSONService) ContentType() string { return "application/json" }

func (JSONService) Extract(ctx context.Context, src Source, form *models.Form, submissionID string) (*Content, error) {
	sub, err := fetch(ctx, src, form, submissionID)
	if err != nil {
		return nil, err
	}
	return &Content{
		Format:  models.FormatJSON,
		FormUID: form.UID,
		Root:    buildTree(form.UID, orderedPairs(form, sub)),
	}, nil
}

func (JSONService) Render(c *Content, subset []string, template string) ([]byte, error) {
	root := Filter(c, subset).Tree()
	body, err := encodeJSON(root)
	if err != nil {
		return nil, err
	}
	if template == "" {
		return body, nil
	}
	return expand(template, body, func(path string) ([]byte, bool) {
		n := root.Find(path)
		if n == nil {
			return nil, false
		}
		b, err := encodeJSON(n)
		return b, err == nil
	}, []byte(`""`)), nil
}

type XMLService struct{}

func (XMLService) Format() models.ExportFormat { return models.FormatXML }

func (XMLService) ContentType() string { return "application/xml" }

func (XMLService) Extract(ctx context.Context, src Source, form *models.Form, submissionID string) (*Content, error) {
	sub, err := fetch(ctx, src, form, submissionID)
	if err != nil {
		return nil, err
	}
	return &Content{
		Format:  models.FormatXML,
		FormUID: form.UID,
		Pairs:   orderedPairs(form, sub),
	}, nil
}

func (XMLService) Render(c *Content, subset []string, template string) ([]byte, error) {
	root := Filter(c, subset).Tree()
	if template == "" {
		return encodeXML(root)
	}
	children, err := encodeXMLChildren(root)
	if err != nil {
		return nil, err
	}
	return expand(template, children, func(path string) ([]byte, bool) {
		n := root.Find(path)
		if n == nil {
			return nil, false
		}
		var (
			b   []byte
			err error
		)
		if n.IsGroup() {
			b, err = encodeXMLChildren(n)
		} else {
			b, err = escapeXMLText(n.Value)
		}
		return b, err == nil
	}, nil), nil
}
