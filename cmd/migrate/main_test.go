package main

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"testing"
)

func TestMigrationFilenamePattern(t *testing.T) {
	pattern := regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

	tests := []struct {
		filename string
		valid    bool
		version  string
		name     string
	}{
		{"0001_init.sql", true, "0001", "init"},
		{"0012_add_sync_gaps.sql", true, "0012", "add_sync_gaps"},
		{"001_invalid.sql", false, "", ""},       // wrong number format
		{"0001_test", false, "", ""},             // missing .sql
		{"0001.sql", false, "", ""},              // missing name
		{"invalid_0001_test.sql", false, "", ""}, // wrong order
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			matches := pattern.FindStringSubmatch(tt.filename)
			if (matches != nil) != tt.valid {
				t.Fatalf("match = %v, want valid=%v", matches, tt.valid)
			}
			if tt.valid && (matches[1] != tt.version || matches[2] != tt.name) {
				t.Errorf("parsed (%q, %q), want (%q, %q)", matches[1], matches[2], tt.version, tt.name)
			}
		})
	}
}

func TestMigrationChecksumConsistency(t *testing.T) {
	content := []byte("CREATE TABLE test (id BIGINT);")
	changed := []byte("CREATE TABLE test (id BIGINT, name TEXT);")

	sum := fmt.Sprintf("%x", sha256.Sum256(content))
	if again := fmt.Sprintf("%x", sha256.Sum256(content)); again != sum {
		t.Error("same content must produce the same checksum")
	}
	if other := fmt.Sprintf("%x", sha256.Sum256(changed)); other == sum {
		t.Error("changed content must produce a different checksum")
	}
}
