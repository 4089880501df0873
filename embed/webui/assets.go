package webui

import (
	"embed"
	"io/fs"
)

//go:embed static
var embedded embed.FS

// Assets holds the web viewer files with the static/ prefix stripped so
// index.html is served at the root.
var Assets fs.FS

func init() {
	sub, err := fs.Sub(embedded, "static")
	if err != nil {
		panic(err)
	}
	Assets = sub
}
