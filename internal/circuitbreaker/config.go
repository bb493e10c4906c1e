package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// Per-backend breaker tuning, overridable through CB_<BACKEND>_* env
// variables. Redis and the agent service trip fast and probe often; the
// archive database is slower to trip since the async write queue already
// absorbs transient stalls.

func redisBreakerConfig() Config {
	return envProfile("REDIS", Config{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

func databaseBreakerConfig() Config {
	return envProfile("DB", Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	})
}

func httpBreakerConfig() Config {
	return envProfile("HTTP", Config{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// envProfile layers CB_<backend>_* overrides on top of the built-in
// defaults. Unparseable values keep the default.
func envProfile(backend string, def Config) Config {
	prefix := "CB_" + backend + "_"
	def.MaxRequests = envUint32(prefix+"MAX_REQUESTS", def.MaxRequests)
	def.Interval = envDuration(prefix+"INTERVAL", def.Interval)
	def.Timeout = envDuration(prefix+"TIMEOUT", def.Timeout)
	def.FailureThreshold = envUint32(prefix+"FAILURE_THRESHOLD", def.FailureThreshold)
	def.SuccessThreshold = envUint32(prefix+"SUCCESS_THRESHOLD", def.SuccessThreshold)
	return def
}

func envUint32(key string, def uint32) uint32 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
