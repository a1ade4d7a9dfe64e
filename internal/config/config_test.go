package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidate_Defaults(t *testing.T) {
	var c Config
	validate(&c)

	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "memory", c.Storage.Backend)
	assert.Equal(t, 5432, c.Postgres.Port)
	assert.Equal(t, "ca_data_change", c.Listener.Channel)
	assert.Equal(t, 5*time.Second, c.Backoff())
	assert.Equal(t, 10*time.Second, c.AdSelection.OverallTimeout)
	assert.Equal(t, 6, c.AdSelection.MaxConcurrentBidding)
	assert.Equal(t, 10, c.AdSelection.MaxIDAttempts)
}

func TestWithDefaults_KeepsConfiguredValues(t *testing.T) {
	a := AdSelection{ScoringTimeout: 300 * time.Millisecond, MaxConcurrentBidding: 2}.WithDefaults()

	assert.Equal(t, 300*time.Millisecond, a.ScoringTimeout)
	assert.Equal(t, 2, a.MaxConcurrentBidding)
	assert.Equal(t, 5*time.Second, a.BiddingTimeoutPerCA)
}

func TestDSN(t *testing.T) {
	var c Config
	c.Postgres.User = "u"
	c.Postgres.Password = "p"
	c.Postgres.Host = "db"
	c.Postgres.DBName = "ads"
	validate(&c)

	assert.Equal(t, "postgres://u:p@db:5432/ads?sslmode=disable", c.DSN())
}
