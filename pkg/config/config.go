// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LocalhostPolicy controls how user-supplied PostGIS URIs pointing at
// loopback hosts are handled.
type LocalhostPolicy string

const (
	// LocalhostPolicyDisallow rejects loopback database addresses.
	LocalhostPolicyDisallow LocalhostPolicy = "disallow"
	// LocalhostPolicyDockerRewrite substitutes the host with
	// host.docker.internal so containers can reach the host machine.
	LocalhostPolicyDockerRewrite LocalhostPolicy = "docker_rewrite"
	// LocalhostPolicyAllow passes loopback URIs through unchanged.
	LocalhostPolicyAllow LocalhostPolicy = "allow"
)

// AuthMode selects how requests are attributed to users.
type AuthMode string

const (
	// AuthModeEdit maps every request to the demo user with full access.
	AuthModeEdit AuthMode = "edit"
	// AuthModeViewOnly permits only read verbs.
	AuthModeViewOnly AuthMode = "view_only"
)

// Config holds all process-wide settings derived from the environment.
type Config struct {
	HTTPPort string

	RedisHost string
	RedisPort int

	S3EndpointURL string
	S3AccessKeyID string
	S3SecretKey   string
	S3Region      string
	S3Bucket      string

	QGISProcessingURL string

	OpenAIBaseURL string
	OpenAIModel   string

	LocalhostPolicy    LocalhostPolicy
	PostGISConnTimeout time.Duration

	AuthMode            AuthMode
	EmbedAllowedOrigins []string

	OSMAPIKey     string
	WebsiteDomain string
}

// Load reads configuration from the environment. It fails only on values
// that cannot be parsed. POSTGIS_LOCALHOST_POLICY validation is deferred to
// connection time so an unset policy surfaces as a configuration error on
// use, not a crash at startup.
func Load() (*Config, error) {
	redisPort := 6379
	if v := os.Getenv("REDIS_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		redisPort = p
	}

	timeout := 10 * time.Second
	if v := os.Getenv("MUNDI_POSTGIS_TIMEOUT_SEC"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MUNDI_POSTGIS_TIMEOUT_SEC: %w", err)
		}
		timeout = time.Duration(secs) * time.Second
	}

	var origins []string
	if v := os.Getenv("MUNDI_EMBED_ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	return &Config{
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8000"),

		RedisHost: getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort: redisPort,

		S3EndpointURL: os.Getenv("S3_ENDPOINT_URL"),
		S3AccessKeyID: os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretKey:   os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3Region:      getEnvOrDefault("S3_DEFAULT_REGION", "us-east-1"),
		S3Bucket:      os.Getenv("S3_BUCKET"),

		QGISProcessingURL: os.Getenv("QGIS_PROCESSING_URL"),

		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:   getEnvOrDefault("OPENAI_MODEL", "gpt-4o"),

		LocalhostPolicy:    LocalhostPolicy(os.Getenv("POSTGIS_LOCALHOST_POLICY")),
		PostGISConnTimeout: timeout,

		AuthMode:            AuthMode(getEnvOrDefault("MUNDI_AUTH_MODE", string(AuthModeEdit))),
		EmbedAllowedOrigins: origins,

		OSMAPIKey:     os.Getenv("BUNTINGLABS_OSM_API_KEY"),
		WebsiteDomain: getEnvOrDefault("WEBSITE_DOMAIN", "http://localhost:8000"),
	}, nil
}

// RedisAddr returns the host:port address for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// OSMEnabled reports whether the OpenStreetMap download tool is available.
func (c *Config) OSMEnabled() bool {
	return c.OSMAPIKey != ""
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
