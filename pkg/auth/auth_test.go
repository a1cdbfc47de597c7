package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperations(t *testing.T) {
	tests := []struct {
		in      string
		want    Operation
		wantErr bool
	}{
		{"get", OpGet, false},
		{"get,subscribe", OpGet | OpSubscribe, false},
		{"read|write", OpGet | OpSet, false},
		{"*", OpAll, false},
		{"fly", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseOperations(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownAction, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "get", OpGet.String())
	assert.Equal(t, "*", OpAll.String())
	assert.Equal(t, "get|subscribe", (OpGet | OpSubscribe).String())
	assert.Equal(t, "none", Operation(0).String())
}

func TestGrant(t *testing.T) {
	g, err := ParseGrant("get,subscribe:Vehicle.Cabin.**")
	require.NoError(t, err)

	assert.True(t, g.Allows("Vehicle.Cabin.Door.Row1.Left.IsOpen", OpGet))
	assert.True(t, g.Allows("Vehicle.Cabin", OpSubscribe))
	assert.False(t, g.Allows("Vehicle.Cabin.Door.Row1.Left.IsOpen", OpSet))
	assert.False(t, g.Allows("Vehicle.Speed", OpGet))
	assert.Equal(t, "get|subscribe:Vehicle.Cabin.**", g.String())

	_, err = ParseGrant("Vehicle.Speed")
	assert.ErrorIs(t, err, ErrInvalidGrant)
	_, err = ParseGrant("get:Vehicle..Speed")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestAllowAll(t *testing.T) {
	assert.NoError(t, AllowAll{}.Authorize(context.Background(), Anonymous, "Vehicle.Speed", OpSet))
}

func TestPolicy(t *testing.T) {
	readAll, err := ParseRule("*", "get,subscribe:Vehicle.**")
	require.NoError(t, err)
	doors, err := ParseRule("app", "set:Vehicle.Cabin.Door.**")
	require.NoError(t, err)
	p := NewPolicy(readAll, doors)

	ctx := context.Background()
	app := Identity{Subject: "app"}

	assert.NoError(t, p.Authorize(ctx, Anonymous, "Vehicle.Speed", OpGet))
	assert.ErrorIs(t, p.Authorize(ctx, Anonymous, "Vehicle.Cabin.Door.Row1.Left.IsOpen", OpSet), ErrAccessDenied)
	assert.NoError(t, p.Authorize(ctx, app, "Vehicle.Cabin.Door.Row1.Left.IsOpen", OpSet))
	assert.ErrorIs(t, p.Authorize(ctx, app, "Vehicle.Powertrain.Transmission.Gear", OpSet), ErrAccessDenied)

	// Grants carried by the identity apply on top of the rules.
	gear, _ := ParseGrant("set:Vehicle.Powertrain.**")
	app.Grants = []Grant{gear}
	assert.NoError(t, p.Authorize(ctx, app, "Vehicle.Powertrain.Transmission.Gear", OpSet))

	assert.Len(t, p.Rules(), 2)
}

func newTokenAuthorizer(t *testing.T) *TokenAuthorizer {
	t.Helper()
	fallback, err := ParseRule("*", "get:Vehicle.Speed")
	require.NoError(t, err)
	a, err := NewTokenAuthorizer(TokenConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "viss-test",
		Audience: "vehicle",
		Fallback: NewPolicy(fallback),
	})
	require.NoError(t, err)
	return a
}

func TestTokenAuthorizer(t *testing.T) {
	a := newTokenAuthorizer(t)
	ctx := context.Background()

	token, err := a.Issue("navigation", time.Minute, "get,subscribe:Vehicle.**", "set:Vehicle.Cabin.**")
	require.NoError(t, err)

	id, err := a.Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "navigation", id.Subject)
	require.Len(t, id.Grants, 2)

	assert.NoError(t, a.Authorize(ctx, id, "Vehicle.Powertrain.FuelSystem.Level", OpSubscribe))
	assert.NoError(t, a.Authorize(ctx, id, "Vehicle.Cabin.Door.Row1.Left.IsOpen", OpSet))
	assert.ErrorIs(t, a.Authorize(ctx, id, "Vehicle.Powertrain.Transmission.Gear", OpSet), ErrAccessDenied)

	// Anonymous sessions fall back to the policy.
	anon, err := a.Authenticate("")
	require.NoError(t, err)
	assert.True(t, anon.IsAnonymous())
	assert.NoError(t, a.Authorize(ctx, anon, "Vehicle.Speed", OpGet))
	assert.ErrorIs(t, a.Authorize(ctx, anon, "Vehicle.Speed", OpSubscribe), ErrAccessDenied)
}

func TestTokenAuthorizerRejects(t *testing.T) {
	a := newTokenAuthorizer(t)

	t.Run("expired", func(t *testing.T) {
		token, err := a.Issue("x", -time.Minute, "get:Vehicle.**")
		require.NoError(t, err)
		_, err = a.Authenticate(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := a.Authenticate("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewTokenAuthorizer(TokenConfig{Secret: []byte("other"), Issuer: "viss-test", Audience: "vehicle"})
		require.NoError(t, err)
		token, err := other.Issue("x", time.Minute)
		require.NoError(t, err)
		_, err = a.Authenticate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "elsewhere",
			Audience:  jwt.ClaimStrings{"vehicle"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = a.Authenticate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("bad scope", func(t *testing.T) {
		token, err := a.Issue("x", time.Minute, "fly:Vehicle.**")
		require.NoError(t, err)
		_, err = a.Authenticate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestNewTokenAuthorizerNeedsKey(t *testing.T) {
	_, err := NewTokenAuthorizer(TokenConfig{})
	assert.Error(t, err)
}
