package utils

import (
	"strconv"

	"github.com/pkg/errors"
)

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Errorf("invalid id %q", s)
	}
	return id, nil
}

// ParseID parses a positive decimal identifier such as a path parameter.
func ParseID(s string) (uint64, error) { return parseID(s) }
