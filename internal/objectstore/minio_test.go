package objectstore

import (
	"testing"
	"time"
)

func TestObjectKey(t *testing.T) {
	at := time.Date(2026, time.March, 7, 23, 30, 0, 0, time.FixedZone("CET", 3600))
	got := ObjectKey("formation_agenda", "abc123", ".pdf", at)
	if got != "formation_agenda/2026/03/abc123.pdf" {
		t.Fatalf("ObjectKey() = %q", got)
	}
	if got := ObjectKey("x", "k", "docx", at); got != "x/2026/03/k.docx" {
		t.Fatalf("ObjectKey() = %q", got)
	}
}
