package types

import (
	"fmt"
	"regexp"
)

var usnRe = regexp.MustCompile(`^(uuid:[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})(?:::(\S+))?$`)

// ParseUSN splits a USN header value into its device id (the
// "uuid:..." portion) and optional "::<type>" suffix. A USN that does
// not match the expected uuid layout is rejected — callers are
// expected to drop the containing message with a warning, per the
// spec's SSDP client handling.
func ParseUSN(usn string) (deviceID string, deviceType string, err error) {
	m := usnRe.FindStringSubmatch(usn)
	if m == nil {
		return "", "", fmt.Errorf("types: invalid USN %q", usn)
	}
	return m[1], m[2], nil
}
