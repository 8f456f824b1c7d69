package agent

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/parrot/pkg/models"
)

func TestAttachAndExtractMedia(t *testing.T) {
	ref := models.MediaRef{Kind: models.MediaAudio, Path: "/tmp/speech.mp3", MimeType: "audio/mpeg"}
	content, err := AttachMedia(map[string]any{"status": "ok", "chars": 12}, ref)
	if err != nil {
		t.Fatalf("AttachMedia() error = %v", err)
	}

	stripped, got := extractMedia(content)
	if got == nil {
		t.Fatalf("expected media in %s", content)
	}
	if *got != ref {
		t.Fatalf("media = %+v, want %+v", *got, ref)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(stripped), &fields); err != nil {
		t.Fatalf("stripped result is not JSON: %v", err)
	}
	if _, ok := fields[mediaKey]; ok {
		t.Fatalf("media key survived stripping: %s", stripped)
	}
	if fields["status"] != "ok" {
		t.Fatalf("payload lost: %s", stripped)
	}
}

func TestExtractMediaPassthrough(t *testing.T) {
	for _, content := range []string{"plain text", `{"status":"ok"}`, `[1,2]`, `{"_media":{"kind":"audio"}}`} {
		out, ref := extractMedia(content)
		if ref != nil {
			t.Errorf("extractMedia(%q) returned media %+v", content, ref)
		}
		if content != `{"_media":{"kind":"audio"}}` && out != content {
			t.Errorf("extractMedia(%q) changed content to %q", content, out)
		}
	}
}

func TestAttachMediaRejectsNonObject(t *testing.T) {
	if _, err := AttachMedia([]int{1}, models.MediaRef{Path: "x"}); err == nil {
		t.Fatal("expected error for non-object payload")
	}
}
