package config

const redacted = "***"

// RedactedConfig returns a copy of cfg with every secret replaced by the
// placeholder "***". The result is what main logs at debug level, so any
// new credential field must be added here as well.
//
// Empty values stay empty, which keeps "not configured" distinguishable
// from "configured" in the log. Slices are copied so that the caller may
// mutate the result freely.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	// Signing key
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.OpenSea.APIKey)

	// Backends. The DSN can embed a password.
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)

	// The Discord webhook URL is itself the credential.
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	return out
}

// redact replaces a non-empty string with the placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
