package pbx

import (
	"bufio"
	"strconv"
	"strings"
)

// Signal is one event frame from the PBX signaling connection: a named event
// with a flat string key/value payload.
//
// Frames on the wire are CRLF-delimited "Key: Value" lines terminated by a
// blank line, the first line carrying "Event: <name>".
type Signal struct {
	Name   string
	Fields map[string]string
}

func (s Signal) Get(key string) string { return s.Fields[key] }

func (s Signal) CorrelationID() string { return s.Get("Uniqueid") }

func (s Signal) CauseCode() int {
	n, err := strconv.Atoi(strings.TrimSpace(s.Get("Cause")))
	if err != nil {
		return 0
	}
	return n
}

// readSignal reads one frame. Non-event frames (action responses, banners)
// come back with an empty Name and are skipped by the caller.
func readSignal(r *bufio.Reader) (Signal, error) {
	sig := Signal{Fields: make(map[string]string)}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return Signal{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return sig, nil
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "Event" {
			sig.Name = value
			continue
		}
		sig.Fields[key] = value
	}
}

// extensionFromChannel extracts the internal extension number from a channel
// name under the fixed numbering convention: "TECH/EXT-uniquifier" where EXT
// is all digits. Returns "" when the channel does not name an extension
// (trunks, queues, named endpoints).
func extensionFromChannel(channel string, minDigits, maxDigits int) string {
	_, rest, ok := strings.Cut(channel, "/")
	if !ok {
		return ""
	}
	ext, _, ok := strings.Cut(rest, "-")
	if !ok {
		ext = rest
	}
	if len(ext) < minDigits || len(ext) > maxDigits {
		return ""
	}
	for _, r := range ext {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return ext
}

// isInternalLeg reports whether a channel name is a bridge-internal leg that
// must not open a new call lifecycle.
func isInternalLeg(channel string) bool {
	return strings.HasPrefix(channel, "Local/") || strings.Contains(channel, "<ZOMBIE>")
}
