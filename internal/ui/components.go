package ui

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"ossgate/internal/tree"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"
)

// Crumb is one link of the breadcrumb trail above a folder listing.
type Crumb struct {
	Name string
	Href string
}

// Layout wraps body in a full HTML page styled with Pico.css. htmx boosts
// links so folder navigation swaps the body without a full reload.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		err := writeAll(w,
			"<!DOCTYPE html><html lang=\"en\"><head><meta charset=\"utf-8\">",
			"<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">",
			"<title>"+html.EscapeString(title)+"</title>",
			"<link rel=\"stylesheet\" href=\"https://unpkg.com/@picocss/pico@2/css/pico.min.css\">",
			"<script src=\"https://unpkg.com/htmx.org@1.9.12\" integrity=\"sha384-srD8tA5lZgUlAXb/DvBy1UG775H8sG8vyXK3w63U1zrtRXkuTDIaTzGvX2UksI0M\" crossorigin=\"anonymous\"></script>",
			"</head><body hx-boost=\"true\"><main class=\"container\">",
		)
		if err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		return writeAll(w, "</main></body></html>")
	})
}

func writeAll(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}

// Breadcrumbs splits a folder key into links back to each ancestor. base is
// the route folders are browsed under, e.g. "/browse/".
func Breadcrumbs(base string, key string) []Crumb {
	crumbs := []Crumb{{Name: "root", Href: base}}

	var acc string
	for segment := range strings.SplitSeq(strings.Trim(key, "/"), "/") {
		if segment == "" {
			continue
		}
		acc += segment + "/"
		crumbs = append(crumbs, Crumb{Name: segment, Href: base + acc})
	}
	return crumbs
}

// TreePage renders the folder tree rooted at root. Folders link back into
// the browser below base, files link to their object URL.
func TreePage(bucket string, base string, root *tree.Node) templ.Component {
	title := "ossgate - " + bucket
	if root.Key != "" {
		title += "/" + root.Key
	}

	return Layout(title, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, "<section><header><h1>%s</h1><nav aria-label=\"breadcrumb\"><ul>", html.EscapeString(bucket))
		if err != nil {
			return err
		}

		for _, c := range Breadcrumbs(base, root.Key) {
			_, err = fmt.Fprintf(w, "<li><a href=\"%s\">%s</a></li>", html.EscapeString(c.Href), html.EscapeString(c.Name))
			if err != nil {
				return err
			}
		}

		folders, files := tree.Count(root)
		_, err = fmt.Fprintf(w, "</ul></nav><p>%d folders, %d files</p></header>", folders, files)
		if err != nil {
			return err
		}

		if len(root.Children) == 0 {
			_, err = io.WriteString(w, "<p>This folder is empty.</p></section>")
			return err
		}

		if err := renderChildren(w, base, root); err != nil {
			return err
		}

		_, err = io.WriteString(w, "</section>")
		return err
	}))
}

// renderChildren writes the nested list below n.
func renderChildren(w io.Writer, base string, n *tree.Node) error {
	if _, err := io.WriteString(w, "<ul>"); err != nil {
		return err
	}

	for _, child := range n.Children {
		var err error
		if child.IsFolder() {
			_, err = fmt.Fprintf(w, "<li><details><summary><a href=\"%s\">%s/</a></summary>",
				html.EscapeString(base+child.Key+"/"), html.EscapeString(child.Name))
			if err != nil {
				return err
			}
			if err := renderChildren(w, base, child); err != nil {
				return err
			}
			_, err = io.WriteString(w, "</details></li>")
		} else {
			_, err = fmt.Fprintf(w, "<li><a href=\"%s\">%s</a> <small>%s &middot; %s</small></li>",
				html.EscapeString(child.URL), html.EscapeString(child.Name),
				humanize.IBytes(uint64(child.Size)), formatTime(child.LastModified))
		}
		if err != nil {
			return err
		}
	}

	_, err := io.WriteString(w, "</ul>")
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
