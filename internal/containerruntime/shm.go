package containerruntime

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// parseShmSize parses a docker-style size string ("1g", "512m", "65536") into bytes.
func parseShmSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	numPart := s
	switch {
	case strings.HasSuffix(s, "g"):
		mult = 1 << 30
		numPart = strings.TrimSuffix(s, "g")
	case strings.HasSuffix(s, "m"):
		mult = 1 << 20
		numPart = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "k"):
		mult = 1 << 10
		numPart = strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "b"):
		numPart = strings.TrimSuffix(s, "b")
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * mult, nil
}

func parsePort(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func osHostname() (string, error) {
	return os.Hostname()
}
