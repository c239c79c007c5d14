// Package templates holds the HTML views of the web front end.
package templates

import (
	"embed"
	"net/http"

	"github.com/gofiber/template/html/v2"
)

//go:embed *.html layouts/*.html partials/*.html
var files embed.FS

// NewEngine returns a template engine over the embedded views. All output
// goes through html/template, so backend-supplied text is escaped.
func NewEngine() *html.Engine {
	return html.NewFileSystem(http.FS(files), ".html")
}
