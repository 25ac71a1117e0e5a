// Package web serves a small tester UI over the resolution pipeline and the
// downloaded files themselves.
package web

import (
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zenload/zenload/resolve"
)

var page = `<!doctype html>
<html lang="en">
<head>
<title>zenload</title>
<meta charset="utf-8">
<link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/water.css@2/out/water.css">
</head>
<body>
	<h1>zenload</h1>

	<form method="POST">
		<label for="input">Post URL</label>
		<input type="url" id="input" name="input" placeholder="https://www.instagram.com/reel/..." value="{{.Input}}" style="width: 100%">
		<label for="format">Format ID (optional)</label>
		<input type="text" id="format" name="format" value="{{.Format}}">
		<button type="submit">Download</button>
	</form>

	{{if .Error}}
		<h2>Error</h2>
		<pre><code>{{.Error}}</code></pre>
	{{end}}

	{{if .FileURL}}
		<h2>Result</h2>
		<pre>{{.Caption}}</pre>
		<p><a href="{{.FileURL}}" target="_blank">{{.FileURL}}</a> ({{.Size}} bytes)</p>
		{{if hasSuffix .FileURL ".mp4"}}
			<video controls width="400">
				<source src="{{.FileURL}}" type="video/mp4">
			</video>
		{{end}}
	{{end}}
</body>
</html>`

type pageData struct {
	Input   string
	Format  string
	Caption string
	FileURL string
	Size    int64
	Error   string
}

var tmpl = template.Must(
	template.New("page").
		Funcs(template.FuncMap{
			"hasSuffix": strings.HasSuffix,
		}).
		Parse(page),
)

// Handler mounts the tester form at / and the download directory at /files/.
func Handler(pipeline *resolve.Pipeline, downloadDir string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", tester(pipeline))
	mux.Handle("/files/", http.StripPrefix("/files/",
		files(http.FileServer(http.Dir(downloadDir)))))
	return mux
}

func tester(pipeline *resolve.Pipeline) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		data := pageData{}

		switch r.Method {
		case "GET":
		case "POST":
			data.Input = r.FormValue("input")
			data.Format = r.FormValue("format")

			media, err := pipeline.ResolveAndDownload(r.Context(), data.Input, data.Format, nil)
			if err != nil {
				data.Error = err.Error()
			} else {
				data.Caption = media.Caption
				data.FileURL = "/files/" + filepath.Base(media.Path)
				data.Size = media.Size
			}
		default:
			http.NotFound(w, r)
			return
		}

		if err := tmpl.Execute(w, data); err != nil {
			slog.Error("template execute", "err", err)
		}
	})
}

func files(next http.Handler) http.Handler {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		if req.Method != "GET" && req.Method != "HEAD" {
			res.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		// prevent directory listings
		if req.URL.Path == "" || strings.HasSuffix(req.URL.Path, "/") {
			http.NotFound(res, req)
			return
		}

		if strings.HasSuffix(req.URL.Path, ".mp4") {
			res.Header().Set("Content-Type", "video/mp4")
			res.Header().Set("Cache-Control", "public, max-age=31536000")
		} else {
			res.Header().Set("Cache-Control", "public, max-age=3600")
		}

		next.ServeHTTP(res, req)
	})
}
