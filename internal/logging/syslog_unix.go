//go:build unix

package logging

import (
	"io"
	"log/syslog"
)

// openSyslog connects to the local syslog daemon (/dev/log or equivalent).
func openSyslog(tag string) (io.WriteCloser, error) {
	return syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
}
