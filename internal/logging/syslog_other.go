//go:build !unix

package logging

import (
	"errors"
	"io"
)

func openSyslog(string) (io.WriteCloser, error) {
	return nil, errors.New("syslog is not supported on this platform")
}
