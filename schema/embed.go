package schema

import _ "embed"

// WatcherV1Schema contains the JSON schema for watcher configuration files.
//
//go:embed watcher.v1.json
var WatcherV1Schema []byte
