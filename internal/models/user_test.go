package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserPassword(t *testing.T) {
	user := &User{Username: "tech01"}

	require.NoError(t, user.SetPassword("s3cret-pass"))
	assert.NotEmpty(t, user.PasswordHash)
	assert.NotEqual(t, "s3cret-pass", user.PasswordHash)

	assert.True(t, user.CheckPassword("s3cret-pass"))
	assert.False(t, user.CheckPassword("wrong"))
	assert.False(t, user.CheckPassword(""))
}

func TestUserRoleCodes(t *testing.T) {
	user := &User{}
	assert.Empty(t, user.RoleCodes())

	require.NoError(t, user.SetRoleCodes([]string{"technician", "supervisor"}))
	assert.Equal(t, []string{"technician", "supervisor"}, user.RoleCodes())
}
