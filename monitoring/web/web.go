// Package web holds the page served by the monitor.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
)

//go:embed dist
var dist embed.FS

// AssetsDirEnv names a directory served instead of the embedded page, so the
// page can be edited without rebuilding.
const AssetsDirEnv = "CN_MONITOR_ASSETS"

// Assets returns the files of the monitoring page.
func Assets() http.FileSystem {
	if dir := os.Getenv(AssetsDirEnv); dir != "" {
		return http.Dir(dir)
	}

	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(sub)
}
