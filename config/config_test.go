package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KRA_API_TIMEOUT", "30s")
	t.Setenv("KRA_API_MAX_RETRIES", "3")
	t.Setenv("PREDICTION_RATE_LIMIT_PER_MIN", "30")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000, http://localhost:5173 ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.KRATimeout)
	assert.Equal(t, 3, cfg.KRAMaxRetries)
	assert.Equal(t, 30, cfg.PredictionRateLimitPerMin)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("KRA_API_TIMEOUT", "5s")
	t.Setenv("KRA_API_MAX_RETRIES", "5")
	t.Setenv("KRA_ENDPOINT_HORSE", "API8_2/raceHorseInfo_2")
	t.Setenv("GEMINI_MODEL", "gemini-1.5-pro")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.KRATimeout)
	assert.Equal(t, 5, cfg.KRAMaxRetries)
	assert.Equal(t, "API8_2/raceHorseInfo_2", cfg.KRAHorseEndpoint)
	assert.Equal(t, "gemini-1.5-pro", cfg.GeminiModel)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	for key, value := range map[string]string{
		"KRA_API_TIMEOUT":               "soon",
		"KRA_API_MAX_RETRIES":           "0",
		"PREDICTION_RATE_LIMIT_PER_MIN": "many",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestValidateServer(t *testing.T) {
	cfg := &Config{
		PostgresDSN:  "postgres://localhost/race",
		RedisAddr:    "localhost:6379",
		JWTSecret:    "s",
		KRAAPIKey:    "k",
		GeminiAPIKey: "g",
	}
	require.NoError(t, cfg.ValidateServer())

	missing := *cfg
	missing.JWTSecret = ""
	assert.ErrorContains(t, missing.ValidateServer(), "JWT_SECRET")

	missing = *cfg
	missing.GeminiAPIKey = ""
	assert.ErrorContains(t, missing.ValidateServer(), "GEMINI_API_KEY")
}
