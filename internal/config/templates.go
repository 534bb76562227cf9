package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "chain":
		return chainTemplate, nil
	case "daemon":
		return daemonTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
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

const chainTemplate = `[link]
poll_interval_ms = 100
lock_timeout_ms = 50
frame_gap_ms = 10
# no_frame_gap = true sends frames back to back
retry_delay_ms = 7
max_attempts = 0
max_frame_payload = 128
read_chunk_size = 32
shutdown_timeout_ms = 2000
max_layer_bytes = 65536
max_drain_passes = 64

[[layers]]
name = "checksum"

[[layers]]
name = "header_footer"
[layers.params]
header = "PP-R-HF<"
footer = ">"

[[layers]]
name = "slip"
[layers.params]
frame_start = "0x00"
frame_end = "0xFF"
frame_esc = "0x7F"
transposed_start = "0x01"
transposed_end = "0xFE"
transposed_esc = "0x7E"
`

const daemonTemplate = `id = "linkd"
mode = "listen"
peer_addr = "127.0.0.1:7400"
admin_addr = ":9400"
chain_file = "chain.toml"
cors_origins = ["http://localhost:3000"]
`
