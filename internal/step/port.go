package step

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrMalformedPort is returned when a port spec's weight suffix is not
// a valid integer.
var ErrMalformedPort = errors.New("step: malformed port specification")

// ParsePort splits a port specification "<stream>" or "<stream>:<weight>"
// into the stream name and routing weight. A bare stream name (no
// ":<weight>" suffix) defaults to weight 0, matching a broadcast
// subscriber or a plain publish port.
func ParsePort(spec string) (streamName string, weight int, err error) {
	idx := strings.LastIndexByte(spec, ':')
	if idx < 0 {
		return spec, 0, nil
	}

	weight, err = strconv.Atoi(spec[idx+1:])
	if err != nil {
		return "", 0, errors.Wrapf(ErrMalformedPort, "port %q", spec)
	}
	return spec[:idx], weight, nil
}
