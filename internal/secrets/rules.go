package secrets

// DefaultRules returns the rules applied to ticket comments before they are
// posted to a goal. They cover credentials people commonly paste into
// tracker discussions.
func DefaultRules() []Rule {
	return []Rule{
		// Atlassian
		{
			ID:          "atlassian-api-token",
			Description: "Atlassian API Token",
			Pattern:     `ATATT3[A-Za-z0-9_\-=]{32,}`,
			Severity:    "high",
		},
		{
			ID:          "atlassian-basic-auth",
			Description: "HTTP Basic credentials",
			Pattern:     `(?i)basic\s+[A-Za-z0-9+/]{16,}={0,2}`,
			Keywords:    []string{"basic"},
			Severity:    "high",
		},

		// Asana personal access tokens look like 2/1201234567890123/1208765432109876:0123456789abcdef0123456789abcdef
		{
			ID:          "asana-pat",
			Description: "Asana Personal Access Token",
			Pattern:     `\b[0-9]/[0-9]{10,20}(?:/[0-9]{10,20})?:[0-9a-f]{32}\b`,
			Severity:    "high",
		},

		// AWS
		{
			ID:          "aws-access-key-id",
			Description: "AWS Access Key ID",
			Pattern:     `(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`,
			Severity:    "high",
		},
		{
			ID:          "aws-secret-access-key",
			Description: "AWS Secret Access Key",
			Pattern:     `(?i)(?:aws_secret_access_key|aws_secret_key|secret_access_key)\s*[:=]\s*['"]?([A-Za-z0-9/+=]{40})['"]?`,
			Keywords:    []string{"aws", "secret"},
			Severity:    "high",
		},

		// Generic
		{
			ID:          "generic-api-key",
			Description: "Generic API Key",
			Pattern:     `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?([A-Za-z0-9_\-]{16,64})['"]?`,
			Keywords:    []string{"api", "key"},
			Severity:    "high",
		},
		{
			ID:          "generic-secret",
			Description: "Generic Secret",
			Pattern:     `(?i)(?:secret|password|passwd|pwd)\s*[:=]\s*['"]?([^\s'"]{8,})['"]?`,
			Keywords:    []string{"secret", "password", "passwd", "pwd"},
			Severity:    "high",
		},
		{
			ID:          "bearer-token",
			Description: "Bearer Token",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{20,}`,
			Keywords:    []string{"bearer"},
			Severity:    "medium",
		},
		{
			ID:          "private-key",
			Description: "Private Key",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`,
			Severity:    "high",
		},
		{
			ID:          "database-url",
			Description: "Connection URL with credentials",
			Pattern:     `(?i)(?:postgres|postgresql|mysql|mongodb|redis|amqp)://[^:\s]+:[^@\s]+@[^\s]+`,
			Severity:    "high",
		},
		{
			ID:          "jwt",
			Description: "JSON Web Token",
			Pattern:     `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`,
			Severity:    "medium",
		},

		// Self-identifying vendor prefixes
		{
			ID:          "github-token",
			Description: "GitHub Token",
			Pattern:     `(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,}`,
			Severity:    "high",
		},
		{
			ID:          "gitlab-token",
			Description: "GitLab Personal Access Token",
			Pattern:     `glpat-[A-Za-z0-9\-]{20,}`,
			Severity:    "high",
		},
		{
			ID:          "slack-token",
			Description: "Slack Token",
			Pattern:     `xox[baprs]-[A-Za-z0-9\-]{10,}`,
			Severity:    "high",
		},
		{
			ID:          "slack-webhook",
			Description: "Slack Incoming Webhook",
			Pattern:     `https://hooks\.slack\.com/services/[A-Za-z0-9/]+`,
			Severity:    "medium",
		},
		{
			ID:          "stripe-key",
			Description: "Stripe API Key",
			Pattern:     `(?:sk|rk)_(?:live|test)_[A-Za-z0-9]{24,}`,
			Severity:    "high",
		},
		{
			ID:          "google-api-key",
			Description: "Google API Key",
			Pattern:     `AIza[A-Za-z0-9_\-]{35}`,
			Severity:    "high",
		},
		{
			ID:          "npm-token",
			Description: "npm Access Token",
			Pattern:     `npm_[A-Za-z0-9]{36}`,
			Severity:    "high",
		},
	}
}
