package postgis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buntinglabs/mundi/pkg/config"
)

func TestValidateURIRemoteHostPassesThrough(t *testing.T) {
	uri := "postgresql://user:pw@db.example.com:5432/gis"
	stored, rewritten, err := ValidateURI(uri, config.LocalhostPolicyDisallow)
	require.NoError(t, err)
	assert.False(t, rewritten)
	assert.Equal(t, uri, stored)
}

func TestValidateURIRejectsNonPostgresScheme(t *testing.T) {
	_, _, err := ValidateURI("mysql://user@host/db", config.LocalhostPolicyAllow)
	assert.Error(t, err)
}

func TestValidateURIRequiresHostname(t *testing.T) {
	_, _, err := ValidateURI("postgresql:///gis", config.LocalhostPolicyAllow)
	assert.Error(t, err)
}

func TestValidateURILoopbackPolicies(t *testing.T) {
	tests := []struct {
		name      string
		uri       string
		policy    config.LocalhostPolicy
		wantErr   error
		want      string
		rewritten bool
	}{
		{
			name:    "disallow localhost",
			uri:     "postgresql://user@localhost:5432/gis",
			policy:  config.LocalhostPolicyDisallow,
			wantErr: ErrLoopbackDisallowed,
		},
		{
			name:    "disallow 127.0.0.1",
			uri:     "postgresql://user@127.0.0.1/gis",
			policy:  config.LocalhostPolicyDisallow,
			wantErr: ErrLoopbackDisallowed,
		},
		{
			name:      "docker rewrite preserves port",
			uri:       "postgresql://user:pw@localhost:5433/gis?sslmode=disable",
			policy:    config.LocalhostPolicyDockerRewrite,
			want:      "postgresql://user:pw@host.docker.internal:5433/gis?sslmode=disable",
			rewritten: true,
		},
		{
			name:      "docker rewrite without port",
			uri:       "postgresql://user@127.0.0.1/gis",
			policy:    config.LocalhostPolicyDockerRewrite,
			want:      "postgresql://user@host.docker.internal/gis",
			rewritten: true,
		},
		{
			name:   "allow passes through",
			uri:    "postgresql://user@localhost/gis",
			policy: config.LocalhostPolicyAllow,
			want:   "postgresql://user@localhost/gis",
		},
		{
			name:    "unset policy is a configuration error",
			uri:     "postgresql://user@localhost/gis",
			policy:  config.LocalhostPolicy(""),
			wantErr: ErrPolicyNotConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored, rewritten, err := ValidateURI(tt.uri, tt.policy)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored)
			assert.Equal(t, tt.rewritten, rewritten)
		})
	}
}

func TestIsLoopbackHost(t *testing.T) {
	assert.True(t, isLoopbackHost("localhost"))
	assert.True(t, isLoopbackHost("127.0.0.1"))
	assert.True(t, isLoopbackHost("127.8.0.3"))
	assert.True(t, isLoopbackHost("::1"))
	assert.False(t, isLoopbackHost("db.example.com"))
	assert.False(t, isLoopbackHost("10.0.0.4"))
}

func TestVerifyReadOnlyPlanAcceptsSelect(t *testing.T) {
	plan := `[{"Plan": {"Node Type": "Seq Scan", "Plans": []}}]`
	assert.NoError(t, VerifyReadOnlyPlan([]byte(plan)))
}

func TestVerifyReadOnlyPlanRejectsModifyTable(t *testing.T) {
	topLevel := `[{"Plan": {"Node Type": "ModifyTable"}}]`
	assert.Error(t, VerifyReadOnlyPlan([]byte(topLevel)))

	nested := `[{"Plan": {"Node Type": "Gather", "Plans": [
		{"Node Type": "Hash Join", "Plans": [{"Node Type": "ModifyTable"}]}
	]}}]`
	assert.Error(t, VerifyReadOnlyPlan([]byte(nested)))
}

func TestVerifyReadOnlyPlanRejectsMalformed(t *testing.T) {
	assert.Error(t, VerifyReadOnlyPlan([]byte("not json")))
	assert.Error(t, VerifyReadOnlyPlan([]byte("[]")))
}

func TestEnforceLimit(t *testing.T) {
	assert.NoError(t, EnforceLimit("SELECT * FROM roads LIMIT 10"))
	assert.NoError(t, EnforceLimit("select name from cities limit 1000"))
	assert.Error(t, EnforceLimit("SELECT * FROM roads LIMIT 1001"))
	assert.Error(t, EnforceLimit("SELECT * FROM roads"))

	// The last LIMIT in the text is the one that binds.
	assert.NoError(t, EnforceLimit("SELECT * FROM (SELECT * FROM a LIMIT 5000) sub LIMIT 100"))
	assert.Error(t, EnforceLimit("SELECT * FROM (SELECT * FROM a LIMIT 10) sub LIMIT 5000"))
}
