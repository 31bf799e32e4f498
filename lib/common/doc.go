// Package common provides the pieces shared by the libraries and the command
// line: the logger factory plugged into dragonboat's logger registry, and the
// configuration of a dump run.
//
// Logging:
//
//	Every package obtains its logger with logger.GetLogger(<name>) from
//	github.com/lni/dragonboat/v4/logger. InitLoggers installs CreateLogger
//	as the factory, so dragonboat's own RAFT logs and dStudy's logs share
//	one format:
//
//	  2025/01/01 12:00:00.000000 INFO  | dump            | pass finished ...
//
// Configuration:
//
//	Config collects the flags of `dstudy run` after they were resolved by
//	viper (flags, DSTUDY_* environment variables and .env files).
package common
