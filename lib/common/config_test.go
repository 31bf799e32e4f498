package common

import (
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		StudyName:   "s",
		NTrials:     10,
		NJobs:       2,
		Interval:    5,
		Destination: "memory",
		LogLevel:    "info",
	}
}

func TestConfigValidate(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())

	broken := []func(c *Config){
		func(c *Config) { c.StudyName = "" },
		func(c *Config) { c.Interval = 0 },
		func(c *Config) { c.NJobs = 0 },
		func(c *Config) { c.NTrials = -1 },
		func(c *Config) { c.Destination = "" },
	}
	for i, mutate := range broken {
		c := validConfig()
		mutate(&c)
		assert.Errorf(t, c.Validate(), "case %d", i)
	}
}

func TestConfigString(t *testing.T) {
	c := validConfig()
	assert.NotContains(t, c.String(), "RAFT PARAMETERS")

	c.Destination = "raft:/tmp/x"
	s := c.String()
	assert.Contains(t, s, "RAFT PARAMETERS")
	assert.True(t, strings.Contains(s, "every 5 trials"))
}

func TestParseLogLevel(t *testing.T) {
	lvl, err := ParseLogLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, logger.WARNING, lvl)

	_, err = ParseLogLevel("loud")
	assert.Error(t, err)
	assert.Error(t, InitLoggers("loud"))
}
