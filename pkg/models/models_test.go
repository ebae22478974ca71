package models

import "testing"

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 Bytes"},
		{500, "500 Bytes"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1048576, "1 MB"},
		{5 * 1024 * 1024 * 1024, "5 GB"},
	}

	for _, tt := range tests {
		if got := FormatSize(tt.bytes); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestNodeIsFolder(t *testing.T) {
	if (&Node{Type: KindFile}).IsFolder() {
		t.Error("file node reported as folder")
	}
	if !(&Node{Type: KindFolder}).IsFolder() {
		t.Error("folder node not reported as folder")
	}
}
