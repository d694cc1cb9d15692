package media

import (
	"regexp"
	"strings"
)

const (
	drivePrefix      = "https://drive.google.com/"
	driveDownloadURL = "https://drive.google.com/uc?export=download&id="
)

var (
	drivePathID  = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`)
	driveQueryID = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
)

// DirectDownloadURL rewrites a drive share link to its direct-download form.
// Anything that is not a drive link, or a drive link without a recognizable
// file id, is returned unchanged.
func DirectDownloadURL(src string) string {
	if !strings.HasPrefix(src, drivePrefix) {
		return src
	}
	if id := DriveFileID(src); id != "" {
		return driveDownloadURL + id
	}
	return src
}

// DriveFileID extracts the file id from a drive URL, or "".
func DriveFileID(src string) string {
	if m := drivePathID.FindStringSubmatch(src); m != nil {
		return m[1]
	}
	if m := driveQueryID.FindStringSubmatch(src); m != nil {
		return m[1]
	}
	return ""
}
