// Package notifications delivers backup cycle outcomes via ntfy.
//
// The default implementation publishes to the topic URL configured in
// config.toml and degrades to a no-op when notifications are disabled.
// Cycle reporting depends only on the Service interface.
package notifications
