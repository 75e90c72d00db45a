// Package config parses the asset server's line-oriented configuration
// file and the value grammars embedded in it (byte sizes, size specs).
//
// The format is fixed by the deployment contract: "key=value" lines, "#"
// starts a trailing comment, blank lines are skipped, and a duplicate key
// anywhere in the file is a hard error. None of that survives a trip
// through viper without losing the duplicate-key check and the bespoke
// suffix grammars below, so this parser is hand-rolled.
package config

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/wb-go/wbf/zlog"
)

// AllFormatsKey is the wildcard key merged into every GetFormats lookup.
const AllFormatsKey = "*"

// Config holds every parsed option from the config file.
type Config struct {
	ListenHost string
	ListenPort uint16

	ProcessingTimeoutSecs uint
	SocketKillTimeoutSecs uint

	ThreadPoolSize uint // meaningful only when hasPoolSize is true
	hasPoolSize    bool

	UploadLimitBytes uint64

	AuthToken string // empty disables bearer auth

	Sizes SizeSpecs

	Formats map[string][]string

	StorageType   string
	StorageParams map[string]string
}

// DefaultThreadPoolSize returns host parallelism plus one, mirroring the
// rule of thumb that one extra worker keeps the pool busy while others
// block briefly on file I/O.
func DefaultThreadPoolSize() int {
	return runtime.NumCPU() + 1
}

// ThreadPoolSizeOrDefault returns the configured pool size, or
// DefaultThreadPoolSize when thread_pool_size was never set.
func (c *Config) ThreadPoolSizeOrDefault() int {
	if !c.hasPoolSize {
		return DefaultThreadPoolSize()
	}
	return int(c.ThreadPoolSize)
}

// GetFormats returns the output formats configured for the given input
// format, plus every format listed under the "*" wildcard key.
func (c *Config) GetFormats(format string) []string {
	var result []string
	if fs, ok := c.Formats[format]; ok {
		result = append(result, fs...)
	}
	if fs, ok := c.Formats[AllFormatsKey]; ok {
		result = append(result, fs...)
	}
	return result
}

// GetSizes evaluates the configured size specs against an image's original
// width and returns the resulting distinct target widths, ascending.
func (c *Config) GetSizes(originalWidth uint) []uint {
	return c.Sizes.GetSizes(originalWidth)
}

// MustLoad loads the config file at path or panics, for callers where a
// broken config file is not recoverable. main calls Load instead and
// reports the error itself.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Panic().Err(err).Str("path", path).Msg("failed to load config")
	}
	return cfg
}

// Load parses the config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: could not open %q: %w", path, err)
	}
	defer f.Close()

	cfg := &Config{
		ListenHost:            "127.0.0.1",
		ListenPort:            8000,
		ProcessingTimeoutSecs: 8,
		SocketKillTimeoutSecs: 10,
		UploadLimitBytes:      20 * 1024 * 1024,
		Formats:               map[string][]string{},
		StorageParams:         map[string]string{},
	}

	seen := map[string]struct{}{}
	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		line := stripCommentAndTrailingSpace(scanner.Text())
		if line == "" {
			continue
		}

		pos := strings.IndexByte(line, '=')
		if pos < 0 {
			return nil, fmt.Errorf("config: invalid line (missing '='): %q", line)
		}

		key := strings.TrimSpace(line[:pos])
		value := strings.TrimSpace(line[pos+1:])

		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("config: duplicate key: %q", key)
		}
		seen[key] = struct{}{}

		if err := cfg.applyKey(key, value); err != nil {
			return nil, fmt.Errorf("config: error parsing key %q: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: error reading %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyKey(key, value string) error {
	switch {
	case key == "listen_host":
		c.ListenHost = value
	case key == "listen_port":
		n, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return err
		}
		c.ListenPort = uint16(n)
	case key == "processing_timeout_secs":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		c.ProcessingTimeoutSecs = uint(n)
	case key == "socket_kill_timeout_secs":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		c.SocketKillTimeoutSecs = uint(n)
	case key == "thread_pool_size":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		c.ThreadPoolSize = uint(n)
		c.hasPoolSize = true
	case key == "upload_limit":
		n, err := ParseBytes(value)
		if err != nil {
			return err
		}
		c.UploadLimitBytes = n
	case key == "auth_token":
		c.AuthToken = value
	case key == "sizes":
		specs, err := ParseSizeSpecs(value)
		if err != nil {
			return err
		}
		c.Sizes = specs
	case key == "storage.type":
		c.StorageType = value
	case strings.HasPrefix(key, "storage."):
		if c.StorageType == "" {
			return fmt.Errorf("storage.type must be specified before other storage.* keys")
		}
		c.StorageParams[strings.TrimPrefix(key, "storage.")] = value
	case strings.HasPrefix(key, "formats."):
		format := strings.TrimPrefix(key, "formats.")
		formats := splitNonEmpty(value, ',')
		if len(formats) == 0 {
			return fmt.Errorf("no formats specified")
		}
		if _, dup := c.Formats[format]; dup {
			return fmt.Errorf("duplicate format key")
		}
		c.Formats[format] = formats
	default:
		return fmt.Errorf("unknown config key")
	}
	return nil
}

func (c *Config) validate() error {
	if len(c.Sizes) == 0 {
		return fmt.Errorf("config: no sizes specified")
	}
	if len(c.Formats) == 0 {
		return fmt.Errorf("config: no formats specified")
	}
	if c.StorageType == "" {
		return fmt.Errorf("config: no storage type specified")
	}
	if c.ProcessingTimeoutSecs == 0 {
		return fmt.Errorf("config: processing_timeout_secs must be greater than 0")
	}
	if c.SocketKillTimeoutSecs <= c.ProcessingTimeoutSecs {
		return fmt.Errorf("config: socket_kill_timeout_secs must be greater than processing_timeout_secs")
	}
	return nil
}

// stripCommentAndTrailingSpace returns the portion of s before the first
// '#', with trailing spaces stripped.
func stripCommentAndTrailingSpace(s string) string {
	if idx := strings.IndexByte(s, '#'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimRight(s, " \t")
}

func splitNonEmpty(s string, sep byte) []string {
	var result []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if part := s[start:i]; part != "" {
				result = append(result, part)
			}
			start = i + 1
		}
	}
	if part := s[start:]; part != "" {
		result = append(result, part)
	}
	return result
}

// ParseBytes parses a byte quantity with a required suffix: B for raw
// bytes, k/K/M/G for 1024-based multiples.
func ParseBytes(s string) (uint64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty byte value")
	}

	suffix := s[len(s)-1]
	digits := s[:len(s)-1]

	var multiplier uint64
	switch suffix {
	case 'B':
		multiplier = 1
	case 'k', 'K':
		multiplier = 1024
	case 'M':
		multiplier = 1024 * 1024
	case 'G':
		multiplier = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("missing byte value suffix (use 'B' to mark individual bytes): %q", s)
	}

	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse byte value %q: %w", s, err)
	}

	return n * multiplier, nil
}

// SizeSpec is either a singleton width (Decrement == 0) or a descending
// sequence starting at the original width and stepping down by a fixed
// pixel amount or a percentage of the current width, stopping once the
// value would drop below FixedValue.
type SizeSpec struct {
	FixedValue     uint
	Decrement      uint
	DecrementIsPct bool
}

// ParseSizeSpec parses a single size spec: "123", "123:10%", or "123:10px".
func ParseSizeSpec(s string) (SizeSpec, error) {
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return SizeSpec{}, fmt.Errorf("invalid size spec %q: %w", s, err)
		}
		return SizeSpec{FixedValue: uint(n)}, nil
	}

	fixedStr := s[:colon]
	decStr := s[colon+1:]

	n, err := strconv.ParseUint(fixedStr, 10, 32)
	if err != nil {
		return SizeSpec{}, fmt.Errorf("invalid size spec %q: %w", s, err)
	}

	spec := SizeSpec{FixedValue: uint(n)}

	switch {
	case strings.HasSuffix(decStr, "%"):
		spec.DecrementIsPct = true
		decStr = strings.TrimSuffix(decStr, "%")
	case strings.HasSuffix(decStr, "px"):
		spec.DecrementIsPct = false
		decStr = strings.TrimSuffix(decStr, "px")
	default:
		return SizeSpec{}, fmt.Errorf("invalid size spec, expected 'px' or '%%' after the colon: %q", s)
	}

	dec, err := strconv.ParseUint(decStr, 10, 32)
	if err != nil {
		return SizeSpec{}, fmt.Errorf("invalid size spec %q: %w", s, err)
	}
	spec.Decrement = uint(dec)

	if spec.DecrementIsPct && spec.Decrement >= 100 {
		return SizeSpec{}, fmt.Errorf("percentual decrement must be smaller than 100: %q", s)
	}
	if spec.Decrement == 0 {
		return SizeSpec{}, fmt.Errorf("decrement must be greater than 0: %q", s)
	}

	return spec, nil
}

// GetSizes adds every width this spec implies for the given original width
// into result.
func (s SizeSpec) GetSizes(originalWidth uint, result map[uint]struct{}) {
	if s.Decrement == 0 {
		result[s.FixedValue] = struct{}{}
		return
	}

	width := originalWidth
	for width >= s.FixedValue {
		result[width] = struct{}{}

		dec := s.Decrement
		if s.DecrementIsPct {
			dec = divRoundUp(width*dec, 100)
		}
		if dec == 0 || dec > width {
			break
		}
		width -= dec
	}
}

func divRoundUp(a, b uint) uint {
	return (a + b - 1) / b
}

// SizeSpecs is a comma-separated list of SizeSpec, unioned into a single
// set of distinct widths.
type SizeSpecs []SizeSpec

// ParseSizeSpecs parses a comma-separated list of size specs.
func ParseSizeSpecs(s string) (SizeSpecs, error) {
	var result SizeSpecs
	for _, part := range splitNonEmpty(s, ',') {
		spec, err := ParseSizeSpec(part)
		if err != nil {
			return nil, err
		}
		result = append(result, spec)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no size specs given")
	}
	return result, nil
}

// GetSizes unions every spec's widths for the given original width and
// returns them sorted ascending.
func (specs SizeSpecs) GetSizes(originalWidth uint) []uint {
	set := map[uint]struct{}{}
	for _, spec := range specs {
		spec.GetSizes(originalWidth, set)
	}

	result := make([]uint, 0, len(set))
	for w := range set {
		result = append(result, w)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
