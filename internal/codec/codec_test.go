package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/alfredjeanlab/sessions/internal/model"
)

func testGraph() *model.Graph {
	g := model.NewGraph()
	g.AddNode(model.NewProcess(&model.ProcessNode{
		NodeKey: "p1", AssetID: "asset-1", State: model.StateCreated,
		ProcessID: 42, ProcessName: "sshd", CreatedTimestamp: 100,
	}))
	g.AddNode(model.NewFile(&model.FileNode{
		NodeKey: "f1", AssetID: "asset-1", State: model.StateExisting,
		FilePath: "/etc/passwd", LastSeenTimestamp: 120,
	}))
	return g
}

func TestCodec_RoundTrip(t *testing.T) {
	for _, c := range []Codec{JSON, Zstd} {
		data, err := c.Marshal(testGraph())
		if err != nil {
			t.Fatalf("Marshal(compress=%v): %v", c.Compress, err)
		}
		if IsCompressed(data) != c.Compress {
			t.Fatalf("IsCompressed = %v, want %v", IsCompressed(data), c.Compress)
		}

		var got model.Graph
		if err := c.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(compress=%v): %v", c.Compress, err)
		}
		if got.Len() != 2 {
			t.Fatalf("got %d nodes, want 2", got.Len())
		}
	}
}

func TestCodec_UnmarshalAcceptsEitherForm(t *testing.T) {
	data, err := Zstd.Marshal(map[string]int{"a": 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]int
	if err := JSON.Unmarshal(data, &got); err != nil {
		t.Fatalf("JSON.Unmarshal of zstd payload: %v", err)
	}
	if got["a"] != 1 {
		t.Fatalf("got %v", got)
	}
}

func TestCodec_Compresses(t *testing.T) {
	payload := map[string]string{"path": strings.Repeat("/var/log/messages", 200)}
	plain, _ := JSON.Marshal(payload)
	packed, _ := Zstd.Marshal(payload)
	if len(packed) >= len(plain) {
		t.Fatalf("zstd payload %d bytes, plain %d", len(packed), len(plain))
	}
}

func TestCodec_CorruptFrame(t *testing.T) {
	data := append(bytes.Clone(zstdMagic), 0xff, 0xff, 0xff)
	var v any
	if err := Zstd.Unmarshal(data, &v); err == nil {
		t.Fatal("expected error for corrupt frame")
	}
}

func TestContentEncoding(t *testing.T) {
	if JSON.ContentEncoding() != "" || Zstd.ContentEncoding() != "zstd" {
		t.Fatalf("ContentEncoding = %q, %q", JSON.ContentEncoding(), Zstd.ContentEncoding())
	}
}
