package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// Cookie names used by the HTTP surface.
const (
	AccessTokenCookieName  = "access_token"
	RefreshTokenCookieName = "refresh_token"
)

// Role titles seeded by the initial migration.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)
