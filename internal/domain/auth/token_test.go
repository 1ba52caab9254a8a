package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("secret", Claims{UserID: "u-1", RoleName: RoleManager}, time.Minute)
	require.NoError(t, err)

	claims, err := ParseToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, RoleManager, claims.RoleName)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("secret", Claims{UserID: "u-1"}, time.Minute)
	require.NoError(t, err)

	_, err = ParseToken("other", token)
	assert.Error(t, err)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, err := GenerateToken("secret", Claims{UserID: "u-1"}, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken("secret", token)
	assert.Error(t, err)
}

func TestStaticPermissions(t *testing.T) {
	perms := StaticPermissions{}

	ok, err := perms.HasPermission(context.Background(), RoleHR, PermPeriodsManage)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = perms.HasPermission(context.Background(), RoleEmployee, PermPeriodsManage)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = perms.HasPermission(context.Background(), RoleSystemAdmin, PermMetricsRead)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStaticDirectory(t *testing.T) {
	dir := StaticDirectory{"u-1": RoleHR}

	role, err := dir.RoleOf(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, RoleHR, role)

	_, err = dir.RoleOf(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
