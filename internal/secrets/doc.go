// Package secrets redacts credentials from document text before it is
// embedded and stored.
//
// Detection combines the gitleaks default rule set with a small list of
// builtin rules for credential shapes that show up in prose (key=value
// assignments, connection URLs, PEM headers). An optional TOML allowlist,
// in the gitleaks [allowlist] format, exempts known-safe matches.
package secrets
