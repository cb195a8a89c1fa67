// Package auth provides authentication and authorisation for the LED locator.
//
// Roles are ordered tiers, each holding the permissions of those below:
//
//	user   led:locate
//	admin  + led:manage location:manage user:manage
//	owner  + managing owner accounts
//
// Passwords are hashed with Argon2id; sessions are short-lived HS256 JWTs
// carrying the user ID and role. The API middleware turns a verified token
// into a Principal stored in the request context, and PermissionAuthorizer
// answers "may this principal do that".
package auth
