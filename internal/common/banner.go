package common

import (
	"os"

	"github.com/ternarybob/banner"
)

// PrintBanner writes the startup banner with the build's full version
// string. VERSO_NO_BANNER suppresses it for log-scraping deployments.
func PrintBanner() {
	if os.Getenv("VERSO_NO_BANNER") != "" {
		return
	}
	banner.PrintSimple("Verso", GetFullVersion())
}
