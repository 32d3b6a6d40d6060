// Package identity owns account registration, password checks and bearer
// token issue. Passwords are hashed with bcrypt; tokens are HS256 JWTs whose
// subject is the numeric user id. The HTTP layer calls Authenticate on every
// protected request and passes the resulting user explicitly to the core.
package identity
