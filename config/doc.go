// Package config loads node configuration from defaults, a YAML file,
// REDISNODE_* environment variables and command-line flags, in that order
// of increasing priority.
//
// Keys are dotted paths. The environment variable for a key is the prefix
// followed by the key in upper case with dots replaced by underscores:
//
//	log.level                      REDISNODE_LOG_LEVEL
//	replication.timeout.handshake  REDISNODE_REPLICATION_TIMEOUT_HANDSHAKE
//
// A Watcher reloads the file when it changes so that settings which can
// change at runtime, such as the log level, take effect without a restart.
package config
