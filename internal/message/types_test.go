package message

import (
	"encoding/json"
	"testing"
)

func TestRecordFileURLEncoding(t *testing.T) {
	tests := []struct {
		name string
		ref  *FileRef
		want string
	}{
		{name: "absent", ref: nil, want: `null`},
		{name: "image url", ref: URLRef("https://cdn/a.jpg"), want: `"https://cdn/a.jpg"`},
		{name: "video", ref: VideoFileRef("https://cdn/v.mp4", "https://cdn/t.jpg"), want: `{"video":"https://cdn/v.mp4","thumbnail":"https://cdn/t.jpg"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(Record{ChatID: "U1", FileURL: tt.ref})
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var doc map[string]json.RawMessage
			if err := json.Unmarshal(raw, &doc); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := string(doc["fileUrl"]); got != tt.want {
				t.Fatalf("fileUrl = %s, want %s", got, tt.want)
			}

			var back Record
			if err := json.Unmarshal(raw, &back); err != nil {
				t.Fatalf("decode record: %v", err)
			}
			switch {
			case tt.ref == nil && back.FileURL != nil:
				t.Fatalf("expected nil fileUrl, got %+v", back.FileURL)
			case tt.ref != nil && tt.ref.Video != nil && (back.FileURL == nil || back.FileURL.Video == nil || *back.FileURL.Video != *tt.ref.Video):
				t.Fatalf("video ref not preserved: %+v", back.FileURL)
			case tt.ref != nil && tt.ref.Video == nil && (back.FileURL == nil || back.FileURL.URL != tt.ref.URL):
				t.Fatalf("url ref not preserved: %+v", back.FileURL)
			}
		})
	}
}

func TestFileRefRejectsNumbers(t *testing.T) {
	var ref FileRef
	if err := json.Unmarshal([]byte(`42`), &ref); err == nil {
		t.Fatal("expected error for numeric fileUrl")
	}
}
