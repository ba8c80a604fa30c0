package rmi

import (
	"os"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("rmi")

var stderrFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.6s} ▶ %{message}`,
)

// SetupLogging wires every package logger (internal/* and rmi itself, since
// they all share the op/go-logging default backend) to a single leveled
// stderr backend, mirroring the teacher's SetupLogging(prefix, level,
// trySyslog) (logging.go) minus syslog, which has no role in a library.
// An AGILERPC_LOG_LEVEL environment variable overrides defaultLevel.
func SetupLogging(defaultLevel logging.Level) *logging.Logger {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	logging.SetFormatter(stderrFormat)
	leveled := logging.AddModuleLevel(backend)

	level := defaultLevel
	switch os.Getenv("AGILERPC_LOG_LEVEL") {
	case "CRITICAL":
		level = logging.CRITICAL
	case "ERROR":
		level = logging.ERROR
	case "WARNING":
		level = logging.WARNING
	case "NOTICE":
		level = logging.NOTICE
	case "INFO":
		level = logging.INFO
	case "DEBUG":
		level = logging.DEBUG
	}
	leveled.SetLevel(level, "")
	logging.SetBackend(leveled)
	return log
}
