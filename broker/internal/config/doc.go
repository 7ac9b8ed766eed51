// Package config loads and watches the broker configuration file
// (config.yaml, `broker:` section).
//
// Config fields:
//   - Client.Port           — public WebSocket port (default 4691)
//   - Client.QueueSize      — per-session outbound buffer depth (default 64)
//   - Client.OverflowPolicy — drop_oldest (default) or disconnect
//   - Ingest.HTTPPort       — report API + health/stats/metrics (default 1991)
//   - Ingest.TCPPort        — raw JSON-lines report listener; 0 disables
//   - Ingest.BacklogSize    — intake queue depth (default 1024)
//   - Ingest.Coalesce       — collapse same-uri bursts (default true)
//   - Ingest.MaxPayloadBytes— report body cap (default 64 KiB)
//   - Auth.Mode/KeyEnv/Header — API key on the ingest surface; the key is
//     resolved from the environment, never stored in the file
//   - LogLevel              — debug|info|warn|error (default info)
//   - ShutdownGrace         — how long listeners may drain on shutdown (default 5s)
//
// Load(path) applies defaults before unmarshalling, then validates.
//
// Watch(ctx, path, apply) uses fsnotify to detect file changes and calls
// apply with the newly parsed Config. Only the auth credentials and the log
// level take effect live; ports and queue sizes need a restart. Event bursts
// from atomic-save editors settle briefly before the file is re-read, and the
// watch is re-added after each reload in case the save replaced the inode.
package config
