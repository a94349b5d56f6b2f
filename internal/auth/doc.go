// Package auth implements the three request authentication classes the
// dispatch surface uses: a static API key for programmatic callers, a JWT
// session cookie for the browser chat client, and per-platform shared-secret
// headers for inbound webhooks. All checks fail closed with 401 before any
// request body is read.
package auth
