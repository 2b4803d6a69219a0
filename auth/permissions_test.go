package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckPermission(t *testing.T) {
	granted := &Claims{Subject: "u", Permissions: []string{"get:actors", "get:movies"}}
	emptyClaim := &Claims{Subject: "u", Permissions: []string{}}
	noClaim := &Claims{Subject: "u"}

	tests := []struct {
		name       string
		permission string
		claims     *Claims
		want       *AuthFailure
	}{
		{name: "granted", permission: "get:actors", claims: granted},
		{name: "denied", permission: "delete:actors", claims: granted, want: ErrPermissionDenied},
		{name: "case sensitive", permission: "GET:actors", claims: granted, want: ErrPermissionDenied},
		{name: "empty claim denies", permission: "get:actors", claims: emptyClaim, want: ErrPermissionDenied},
		{name: "absent claim", permission: "get:actors", claims: noClaim, want: ErrPermissionsClaimMissing},
		{name: "authentication only", permission: "", claims: noClaim},
		{name: "authentication only with permissions", permission: "", claims: granted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPermission(tt.permission, tt.claims)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckPermission_Statuses(t *testing.T) {
	err := CheckPermission("get:actors", &Claims{})
	f, _ := AsFailure(err)
	assert.Equal(t, 400, f.Status)

	err = CheckPermission("get:actors", &Claims{Permissions: []string{}})
	f, _ = AsFailure(err)
	assert.Equal(t, 401, f.Status)
}
