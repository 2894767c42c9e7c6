// Package audit emits a structured audit entry for every CLI command
// invocation: the command name, the resolved config file, and the sanitised
// environment the process will run with. Secret values are reduced to
// presence/absence so the entry is safe to ship to any log sink.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// auditEntry is one env var tracked by the audit log.
type auditEntry struct {
	// key is the environment variable name.
	key string
	// secret reduces the logged value to "set"/"unset".
	secret bool
}

// auditKeys is the ordered env var table included in every audit entry.
// It doubles as the registry of secret keys for SanitiseKey.
var auditKeys = []auditEntry{
	{key: "MODEL_PROVIDER"},
	{key: "OLLAMA_HOST"},
	{key: "OLLAMA_MODEL"},
	{key: "OPENAI_API_KEY", secret: true},
	{key: "OPENAI_MODEL"},
	{key: "AZURE_OPENAI_API_KEY", secret: true},
	{key: "AZURE_OPENAI_ENDPOINT"},
	{key: "AZURE_OPENAI_DEPLOYMENT"},
	{key: "GOOGLE_API_KEY", secret: true},
	{key: "GEMINI_MODEL"},
	{key: "AWS_REGION"},
	{key: "AWS_SECRET_ACCESS_KEY", secret: true},
	{key: "BEDROCK_MODEL_ID"},
	{key: "EMBEDDING_PROVIDER"},
	{key: "EMBEDDING_MODEL"},
	{key: "EMBEDDING_API_KEY", secret: true},
	{key: "QDRANT_HOST"},
	{key: "QDRANT_PORT"},
	{key: "QDRANT_COLLECTION"},
	{key: "QDRANT_API_KEY", secret: true},
	{key: "RAG_TOP_K"},
	{key: "RAG_SIMILARITY_FLOOR"},
	{key: "RAGKIT_API_KEY", secret: true},
	{key: "RAGKIT_SESSIONS_DB"},
	{key: "LOG_LEVEL"},
	{key: "LOG_FORMAT"},
	{key: "LANGFUSE_PUBLIC_KEY", secret: true},
	{key: "LANGFUSE_SECRET_KEY", secret: true},
}

// LogCommandStart writes the audit entry for a starting CLI command.
func LogCommandStart(log *slog.Logger, command string, configPath string) {
	attrs := make([]slog.Attr, 0, len(auditKeys)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	for _, entry := range auditKeys {
		attrs = append(attrs, slog.String(entry.key, entry.render(os.Getenv(entry.key))))
	}

	log.LogAttrs(context.TODO(), slog.LevelInfo, "audit: command start", attrs...)
}

// render formats a value according to the entry's secrecy.
func (e auditEntry) render(val string) string {
	if e.secret {
		return presence(val)
	}
	return valOrUnset(val)
}

// SanitiseKey returns "set"/"unset" for keys registered as secret, or the
// actual value otherwise. Safe to use in any log message.
func SanitiseKey(key, value string) string {
	for _, entry := range auditKeys {
		if entry.key == key {
			return entry.render(value)
		}
	}
	return valOrUnset(value)
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path with the home directory
// shortened to "~", or "none" when no config file was loaded.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
