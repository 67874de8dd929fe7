package config

import (
	"os"
	"path/filepath"
	"testing"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/models"
)

const minimalYAML = `
name: kimchi-test
port: 8080
exchange_rate:
  primary_url: http://primary.local/latest/USD
exchanges:
  - {name: upbit, group: domestic, enabled: true}
  - {name: binance, group: global, enabled: true}
`

// -----------------------------------------------------------------------------

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Storage.DBType != "sqlite" || cfg.Storage.DBPath == "" {
		t.Errorf("expected sqlite default storage, got %+v", cfg.Storage)
	}
	if cfg.Redis.TTLSeconds != 300 {
		t.Errorf("expected redis ttl 300, got %d", cfg.Redis.TTLSeconds)
	}
	if cfg.Premium.Mode != models.PremiumModeLive || cfg.Premium.IntervalMs != 1000 {
		t.Errorf("expected live mode at 1000ms, got %s at %d", cfg.Premium.Mode, cfg.Premium.IntervalMs)
	}
	if cfg.Exchanges[0].MaxSymbols != 100 {
		t.Errorf("expected max_symbols default 100, got %d", cfg.Exchanges[0].MaxSymbols)
	}
	if got := cfg.Groups(); got["upbit"] != models.GroupDomestic || got["binance"] != models.GroupGlobal {
		t.Errorf("unexpected groups %v", got)
	}
}

// -----------------------------------------------------------------------------

func TestBatchModeDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + "premium:\n  mode: batch\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Premium.IntervalMs != 60000 || !cfg.Premium.Persist {
		t.Errorf("batch mode should default to 60s and persist, got %+v", cfg.Premium)
	}
}

// -----------------------------------------------------------------------------

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "cache:6379" {
		t.Errorf("redis override not applied: %+v", cfg.Redis)
	}
	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("kafka override not applied: %+v", cfg.Kafka)
	}
}

// -----------------------------------------------------------------------------

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"no global exchange": `
exchange_rate: {primary_url: http://x}
exchanges:
  - {name: upbit, group: domestic, enabled: true}
`,
		"bad group": `
exchange_rate: {primary_url: http://x}
exchanges:
  - {name: upbit, group: local, enabled: true}
  - {name: binance, group: global, enabled: true}
`,
		"no rate source": `
exchanges:
  - {name: upbit, group: domestic, enabled: true}
  - {name: binance, group: global, enabled: true}
`,
		"bad mode": minimalYAML + "premium:\n  mode: hourly\n",
		"bad yaml": "exchanges: [",
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !helpers.IsConfiguration(err) {
				t.Errorf("expected ConfigurationError, got %T: %v", err, err)
			}
		})
	}
}

// -----------------------------------------------------------------------------

func TestNewConfigMissingFile(t *testing.T) {
	_, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if !helpers.IsConfiguration(err) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

// -----------------------------------------------------------------------------

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "saved.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	again, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse of saved config failed: %v", err)
	}
	if again.Name != "kimchi-test" || len(again.Exchanges) != 2 {
		t.Errorf("saved config lost data: %+v", again.MConfig)
	}
}
