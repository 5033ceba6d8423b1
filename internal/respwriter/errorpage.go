package respwriter

import (
	"bytes"
	_ "embed"
	"strconv"
	"strings"
	"text/template"
)

//go:embed templates/error_layout.html.template
var errorLayoutTemplate string

//go:embed templates/error_layout.css
var errorLayoutCSS string

//go:embed templates/general_error.html.template
var generalErrorTemplate string

//go:embed templates/general_error_with_html.html.template
var generalErrorWithHTMLTemplate string

//go:embed templates/undisclosed_error.html.template
var undisclosedErrorTemplate string

// SpawnFailure carries the optional detail a SessionCheckoutError provides
// about why a worker could not be started, mirroring SpawnException in
// original_source/.../RequestHandler.h: an annotation map merged into the
// page's template parameters (uppercased), and a flag selecting the
// variant template when one of those annotations is itself an HTML
// fragment (e.g. ERROR_PAGE).
type SpawnFailure struct {
	Annotations map[string]string
	HasHTML     bool
}

// PageParams are the request-scoped values the templates render with, the
// Go equivalent of the original's {CSS, APP_ROOT, ENVIRONMENT, MESSAGE,
// TITLE} parameter set.
type PageParams struct {
	AppRoot     string
	Environment string
	Message     string
}

// Renderer renders a named template against a parameter map. The core
// only depends on this interface (spec.md §1: "the core uses a supplied
// template-render function only"); DefaultRenderer below is a concrete
// implementation supplied so the repository runs standalone.
type Renderer interface {
	Render(templateBody string, params map[string]string) (string, error)
}

// DefaultRenderer applies Go's text/template against the embedded page
// templates. text/template (not html/template) is used deliberately: a
// SpawnFailure annotation may itself carry a raw HTML fragment
// (ERROR_PAGE) that must be emitted verbatim, matching the original's
// plain string-substitution Template::apply.
type DefaultRenderer struct{}

func (DefaultRenderer) Render(templateBody string, params map[string]string) (string, error) {
	tmpl, err := template.New("page").Parse(templateBody)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ErrorPage renders the 500 response body for writeErrorResponse. friendly
// selects between the templated HTML page and the static undisclosed-error
// page, per spec.md §4.6 / PASSENGER_FRIENDLY_ERROR_PAGES.
func ErrorPage(r Renderer, friendly bool, params PageParams, failure *SpawnFailure) (string, error) {
	if !friendly {
		return undisclosedErrorTemplate, nil
	}

	vars := map[string]string{
		"CSS":         errorLayoutCSS,
		"APP_ROOT":    params.AppRoot,
		"ENVIRONMENT": params.Environment,
		"MESSAGE":     params.Message,
	}

	bodyTemplate := generalErrorTemplate
	if failure != nil {
		vars["TITLE"] = "Web application could not be started"
		for name, value := range failure.Annotations {
			vars[strings.ToUpper(name)] = value
		}
		if failure.HasHTML {
			bodyTemplate = generalErrorWithHTMLTemplate
		}
	} else {
		vars["TITLE"] = "Internal server error"
	}

	content, err := r.Render(bodyTemplate, vars)
	if err != nil {
		return "", err
	}
	vars["CONTENT"] = content

	return r.Render(errorLayoutTemplate, vars)
}

// ErrorResponseHeader builds the HTTP-style header block written ahead of
// an error page body: the optional status line, the Status/Content-Length
// /Content-Type lines always present, per spec.md §4.6.
func ErrorResponseHeader(printStatusLine bool, bodyLen int) []byte {
	var b bytes.Buffer
	if printStatusLine {
		b.WriteString("HTTP/1.1 500 Internal Server Error\r\n")
	}
	b.WriteString("Status: 500 Internal Server Error\r\n")
	b.WriteString("Content-Length: ")
	b.WriteString(strconv.Itoa(bodyLen))
	b.WriteString("\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	return b.Bytes()
}
