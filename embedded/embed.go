package embedded

import (
	"embed"
	"io/fs"
)

//go:embed web
var webFS embed.FS

// WebUI returns the bundled control page, rooted at the directory
// holding index.html.
func WebUI() fs.FS {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		panic(err)
	}
	return sub
}
