package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Template returns an example simulation file in format "toml" or "yaml".
func Template(format string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), ".")) {
	case "toml":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// WriteTemplate writes the example matching the extension of path.
func WriteTemplate(path string, overwrite bool) error {
	template, err := Template(filepath.Ext(path))
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const tomlTemplate = `[simulation]
seed = 1
max_attempts = 8
ack_timeout = "2s"
backoff_initial = "10ms"
backoff_max = "500ms"
backoff_jitter = true
admin_addr = "127.0.0.1:9300"

[logging]
level = "info"
timestamp = true

[[drone]]
id = 11
connected_node_ids = [12, 14, 1]
pdr = 0.05
impl = "reference"

[[drone]]
id = 12
connected_node_ids = [11, 13, 21]
pdr = 0.05

[[drone]]
id = 13
connected_node_ids = [12, 14, 21, 22, 2]
pdr = 0.05

[[drone]]
id = 14
connected_node_ids = [13, 11, 22]
pdr = 0.05

[[client]]
id = 1
connected_drone_ids = [11]
kind = "web_browser"

[[client]]
id = 2
connected_drone_ids = [13]
kind = "chat"

[[server]]
id = 21
connected_drone_ids = [12, 13]
kind = "content"

[server.files]
"readme.txt" = "hello from the content server"

[server.media]
"logo.txt" = "<svg/>"

[[server]]
id = 22
connected_drone_ids = [13, 14]
kind = "communication"
`

const yamlTemplate = `simulation:
  seed: 1
  max_attempts: 8
  ack_timeout: 2s
  backoff_initial: 10ms
  backoff_max: 500ms
  backoff_jitter: true
  admin_addr: 127.0.0.1:9300

logging:
  level: info
  timestamp: true

drone:
  - id: 11
    connected_node_ids: [12, 14, 1]
    pdr: 0.05
    impl: reference
  - id: 12
    connected_node_ids: [11, 13, 21]
    pdr: 0.05
  - id: 13
    connected_node_ids: [12, 14, 21, 22, 2]
    pdr: 0.05
  - id: 14
    connected_node_ids: [13, 11, 22]
    pdr: 0.05

client:
  - id: 1
    connected_drone_ids: [11]
    kind: web_browser
  - id: 2
    connected_drone_ids: [13]
    kind: chat

server:
  - id: 21
    connected_drone_ids: [12, 13]
    kind: content
    files:
      readme.txt: hello from the content server
    media:
      logo.txt: <svg/>
  - id: 22
    connected_drone_ids: [13, 14]
    kind: communication
`
