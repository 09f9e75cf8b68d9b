package config

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestSecretKeysFromTags(t *testing.T) {
	want := []string{
		"extraction.api_key",
		"llm.api_key",
		"rate_limit.redis_url",
		"storage.supabase.api_key",
		"telegram.token",
	}
	var got []string
	for _, k := range Keys() {
		if IsSecretKey(k) {
			got = append(got, k)
		}
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("secret keys = %v, want %v", got, want)
	}
	if IsSecretKey("storage.supabase.url") || IsSecretKey("llm.base_url") {
		t.Error("endpoint URLs reported as secrets")
	}
}

func TestKeysMatchSavedDocument(t *testing.T) {
	m, err := ToMap(Default())
	if err != nil {
		t.Fatal(err)
	}
	flat := Flatten(m)
	for _, k := range Keys() {
		if _, ok := flat[k]; !ok {
			t.Errorf("key %s missing from saved config", k)
		}
	}
	if len(flat) != len(Keys()) {
		t.Errorf("saved config has %d keys, struct has %d", len(flat), len(Keys()))
	}
	for _, section := range []string{"pipeline", "pipeline.timeouts", "storage.supabase"} {
		if IsKnownKey(section) {
			t.Errorf("section %s reported as a settable key", section)
		}
	}
}

func TestFlattenKeepsTimeoutsAsDurationStrings(t *testing.T) {
	m, err := ToMap(Default())
	if err != nil {
		t.Fatal(err)
	}
	flat := Flatten(m)
	tests := map[string]string{
		"pipeline.ttl":                "30m0s",
		"pipeline.timeouts.download":  "5m0s",
		"pipeline.timeouts.storage":   "30s",
		"extraction.poll_interval":    "5s",
		"pipeline.max_video_duration": "10m0s",
	}
	for key, want := range tests {
		if flat[key] != want {
			t.Errorf("%s = %v, want %s", key, flat[key], want)
		}
	}
	if _, ok := flat["pipeline.categories"]; !ok {
		t.Error("nil categories should flatten to null, not vanish")
	}
}

func TestUnflattenRoundTripsConfig(t *testing.T) {
	orig := Default()
	orig.Pipeline.Timeouts.Storage = Duration(45 * time.Second)
	orig.Pipeline.Categories = []string{"ai", "devops"}
	orig.Telegram.AllowedUsers = []int64{42}
	orig.Storage.Fallback = "sqlite"

	m, err := ToMap(orig)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(Unflatten(Flatten(m)))
	if err != nil {
		t.Fatal(err)
	}
	var back Config
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode round trip: %v", err)
	}
	if !reflect.DeepEqual(&back, orig) {
		t.Errorf("round trip changed config:\n got %+v\nwant %+v", back, *orig)
	}
}

func TestUnflattenPrefersObjectOverLeaf(t *testing.T) {
	got := Unflatten(map[string]any{
		"storage":         "markdown",
		"storage.sqlite":  map[string]any{},
		"storage.primary": "sqlite",
	})
	storage, ok := got["storage"].(map[string]any)
	if !ok {
		t.Fatalf("storage = %T, want object", got["storage"])
	}
	if storage["primary"] != "sqlite" {
		t.Errorf("storage.primary = %v", storage["primary"])
	}
}

func TestListValuesMasksStoreCredentials(t *testing.T) {
	cfg := Default()
	cfg.Storage.Supabase.URL = "https://abc.supabase.co"
	cfg.Storage.Supabase.APIKey = "eyJhbGciOiJIUzI1NiJ9.x.sig9"
	cfg.RateLimit.RedisURL = "redis://:pw@localhost:6379/0"

	flat, err := ListValues(cfg, true)
	if err != nil {
		t.Fatal(err)
	}
	if flat["storage.supabase.api_key"] != "***sig9" {
		t.Errorf("supabase key = %v", flat["storage.supabase.api_key"])
	}
	if flat["rate_limit.redis_url"] != "***79/0" {
		t.Errorf("redis url = %v", flat["rate_limit.redis_url"])
	}
	if flat["storage.supabase.url"] != "https://abc.supabase.co" {
		t.Errorf("supabase url masked: %v", flat["storage.supabase.url"])
	}
	for k, v := range flat {
		if s, ok := v.(string); ok && strings.Contains(s, "pw@") {
			t.Errorf("%s leaks the redis password", k)
		}
	}
}

func TestMask(t *testing.T) {
	tests := []struct{ in, want string }{
		{"ab", "***ab"},
		{"abcd", "***abcd"},
		{"123456:ABCdefGHIjkl", "***Ijkl"},
	}
	for _, tt := range tests {
		if got := mask(tt.in); got != tt.want {
			t.Errorf("mask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	got := MaskSecrets(map[string]any{"telegram.token": "", "log_level": "info"})
	if got["telegram.token"] != "" || got["log_level"] != "info" {
		t.Errorf("MaskSecrets = %v", got)
	}
}
