package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSizeSpecPercentualDecrement(t *testing.T) {
	specs, err := ParseSizeSpecs("256:10%")
	if err != nil {
		t.Fatalf("ParseSizeSpecs: %v", err)
	}

	got := specs.GetSizes(1000)
	want := []uint{280, 312, 347, 386, 429, 477, 531, 590, 656, 729, 810, 900, 1000}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GetSizes(1000) = %v, want %v", got, want)
	}
}

func TestSizeSpecMixedFixedAndPixelDecrement(t *testing.T) {
	specs, err := ParseSizeSpecs("100,50:100px")
	if err != nil {
		t.Fatalf("ParseSizeSpecs: %v", err)
	}

	got := specs.GetSizes(985)
	want := []uint{85, 100, 185, 285, 385, 485, 585, 685, 785, 885, 985}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GetSizes(985) = %v, want %v", got, want)
	}
}

func TestSizeSpecRejectsZeroDecrement(t *testing.T) {
	if _, err := ParseSizeSpec("100:0px"); err == nil {
		t.Fatal("expected error for a zero pixel decrement")
	}
	if _, err := ParseSizeSpec("100:0%"); err == nil {
		t.Fatal("expected error for a zero percent decrement")
	}
}

func TestSizeSpecRejectsPercentAtOrAboveHundred(t *testing.T) {
	if _, err := ParseSizeSpec("100:100%"); err == nil {
		t.Fatal("expected error for a 100% decrement")
	}
}

func TestSizeSpecRejectsMissingSuffix(t *testing.T) {
	if _, err := ParseSizeSpec("100:10"); err == nil {
		t.Fatal("expected error when neither 'px' nor '%' is given")
	}
}

func TestParseBytesSuffixes(t *testing.T) {
	cases := map[string]uint64{
		"123B": 123,
		"1k":   1024,
		"1K":   1024,
		"1M":   1024 * 1024,
		"1G":   1024 * 1024 * 1024,
	}

	for input, want := range cases {
		got, err := ParseBytes(input)
		if err != nil {
			t.Fatalf("ParseBytes(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseBytes(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestParseBytesRequiresSuffix(t *testing.T) {
	if _, err := ParseBytes("123"); err == nil {
		t.Fatal("expected error for a byte value with no suffix")
	}
}

func TestParseBytesRejectsEmpty(t *testing.T) {
	if _, err := ParseBytes(""); err == nil {
		t.Fatal("expected error for an empty byte value")
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "server.conf")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func minimalValidConfig() string {
	return "" +
		"sizes=100,200\n" +
		"formats.jpeg=jpeg,webp\n" +
		"storage.type=fs\n" +
		"storage.root=/var/lib/assets\n"
}

func TestLoadParsesMinimalConfig(t *testing.T) {
	path := writeConfig(t, minimalValidConfig())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.StorageType != "fs" {
		t.Fatalf("StorageType = %q, want fs", cfg.StorageType)
	}
	if cfg.StorageParams["root"] != "/var/lib/assets" {
		t.Fatalf("StorageParams[root] = %q", cfg.StorageParams["root"])
	}
	if got := cfg.GetFormats("jpeg"); !reflect.DeepEqual(got, []string{"jpeg", "webp"}) {
		t.Fatalf("GetFormats(jpeg) = %v", got)
	}
}

func TestLoadIgnoresCommentsAndBlankLines(t *testing.T) {
	contents := "# a leading comment\n\n" +
		"sizes=100 # inline comment\n" +
		"formats.jpeg=jpeg\n" +
		"storage.type=fs\n" +
		"storage.root=/tmp\n"

	cfg, err := Load(writeConfig(t, contents))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Sizes) != 1 || cfg.Sizes[0].FixedValue != 100 {
		t.Fatalf("unexpected sizes: %+v", cfg.Sizes)
	}
}

func TestLoadRejectsDuplicateKeys(t *testing.T) {
	contents := minimalValidConfig() + "sizes=300\n"

	if _, err := Load(writeConfig(t, contents)); err == nil {
		t.Fatal("expected an error for a duplicate key")
	}
}

func TestLoadRejectsMissingSizes(t *testing.T) {
	contents := "formats.jpeg=jpeg\nstorage.type=fs\nstorage.root=/tmp\n"
	if _, err := Load(writeConfig(t, contents)); err == nil {
		t.Fatal("expected an error when sizes is missing")
	}
}

func TestLoadRejectsSocketKillTimeoutNotGreaterThanProcessingTimeout(t *testing.T) {
	contents := minimalValidConfig() +
		"processing_timeout_secs=10\n" +
		"socket_kill_timeout_secs=10\n"

	if _, err := Load(writeConfig(t, contents)); err == nil {
		t.Fatal("expected an error when socket_kill_timeout_secs <= processing_timeout_secs")
	}
}

func TestGetFormatsMergesWildcard(t *testing.T) {
	contents := minimalValidConfig() + "formats.*=thumb\n"

	cfg, err := Load(writeConfig(t, contents))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := cfg.GetFormats("jpeg")
	want := []string{"jpeg", "webp", "thumb"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GetFormats(jpeg) = %v, want %v", got, want)
	}
}

func TestThreadPoolSizeDefaultsWhenUnset(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalValidConfig()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ThreadPoolSizeOrDefault() != DefaultThreadPoolSize() {
		t.Fatalf("expected default thread pool size")
	}
}

func TestThreadPoolSizeHonorsExplicitValue(t *testing.T) {
	contents := minimalValidConfig() + "thread_pool_size=3\n"
	cfg, err := Load(writeConfig(t, contents))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ThreadPoolSizeOrDefault() != 3 {
		t.Fatalf("ThreadPoolSizeOrDefault() = %d, want 3", cfg.ThreadPoolSizeOrDefault())
	}
}
