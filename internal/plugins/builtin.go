package plugins

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/danmuck/linkstack/internal/protocol"
	"github.com/danmuck/linkstack/internal/protocol/checksum"
	"github.com/danmuck/linkstack/internal/protocol/headerfooter"
	"github.com/danmuck/linkstack/internal/protocol/slip"
)

func init() {
	Register(checksum.Name, buildChecksum)
	Register(headerfooter.Name, buildHeaderFooter)
	Register(slip.Name, buildSlip)
}

func buildChecksum(spec LayerSpec) (protocol.Codec, error) {
	if err := rejectUnknown(spec); err != nil {
		return nil, err
	}
	return checksum.New(), nil
}

// header_footer params: header, footer (text) or header_hex, footer_hex.
func buildHeaderFooter(spec LayerSpec) (protocol.Codec, error) {
	if err := rejectUnknown(spec, "header", "footer", "header_hex", "footer_hex"); err != nil {
		return nil, err
	}
	cfg := headerfooter.DefaultConfig()
	var err error
	if cfg.Header, err = delimiter(spec, "header", cfg.Header); err != nil {
		return nil, err
	}
	if cfg.Footer, err = delimiter(spec, "footer", cfg.Footer); err != nil {
		return nil, err
	}
	return headerfooter.New(cfg)
}

// slip params: frame_start, frame_end, frame_esc, transposed_start,
// transposed_end, transposed_esc. Values accept 0x, 0o and decimal forms.
func buildSlip(spec LayerSpec) (protocol.Codec, error) {
	cfg := slip.DefaultConfig()
	fields := map[string]*byte{
		"frame_start":      &cfg.FrameStart,
		"frame_end":        &cfg.FrameEnd,
		"frame_esc":        &cfg.FrameEsc,
		"transposed_start": &cfg.TransposedStart,
		"transposed_end":   &cfg.TransposedEnd,
		"transposed_esc":   &cfg.TransposedEsc,
	}
	allowed := make([]string, 0, len(fields))
	for key := range fields {
		allowed = append(allowed, key)
	}
	if err := rejectUnknown(spec, allowed...); err != nil {
		return nil, err
	}
	for key, dst := range fields {
		raw, ok := spec.Params[key]
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(raw, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q: %w", ErrBadParam, key, raw, err)
		}
		*dst = byte(v)
	}
	return slip.New(cfg)
}

func delimiter(spec LayerSpec, key string, def []byte) ([]byte, error) {
	text, hasText := spec.Params[key]
	encoded, hasHex := spec.Params[key+"_hex"]
	switch {
	case hasText && hasHex:
		return nil, fmt.Errorf("%w: %s and %s_hex are exclusive", ErrBadParam, key, key)
	case hasHex:
		b, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: %s_hex=%q: %w", ErrBadParam, key, encoded, err)
		}
		return b, nil
	case hasText:
		return []byte(text), nil
	default:
		return def, nil
	}
}

func rejectUnknown(spec LayerSpec, allowed ...string) error {
	var unknown []string
	for key := range spec.Params {
		found := false
		for _, a := range allowed {
			if key == a {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w: unknown keys %v", ErrBadParam, unknown)
}
