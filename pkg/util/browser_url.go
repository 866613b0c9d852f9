package util

import (
	"fmt"
	"net/url"
	"path"
	"strconv"

	"github.com/buildbarn/bb-storage/pkg/digest"
)

// GetActionURL generates a URL that can be visited to obtain more
// information about an action stored in the Content Addressable
// Storage (CAS), such as its command line and input files.
func GetActionURL(browserURL *url.URL, digest digest.Digest) string {
	u, err := browserURL.Parse(
		path.Join(
			browserURL.EscapedPath(),
			"action",
			digest.GetInstanceName().String(),
			digest.GetHashString(),
			strconv.FormatInt(digest.GetSizeBytes(), 10)) + "/")
	if err != nil {
		panic(fmt.Sprintf("Failed to create browser URL: %s", err))
	}
	return u.String()
}
