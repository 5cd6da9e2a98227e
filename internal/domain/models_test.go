package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestTorrentSettingsEngine(t *testing.T) {
	tests := []struct {
		name     string
		in       TorrentSettings
		wantDown int64
		wantUp   int64
	}{
		{"40Mbps", TorrentSettings{TorrentSpeed: 40}, 5242880, 6291456},
		{"1Mbps", TorrentSettings{TorrentSpeed: 1}, 131072, 157286},
		{"fractional", TorrentSettings{TorrentSpeed: 0.5}, 65536, 78643},
		{"zeroUnlimited", TorrentSettings{TorrentSpeed: 0}, 0, 0},
		{"negativeUnlimited", TorrentSettings{TorrentSpeed: -3}, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.in.Engine("/tmp/x")
			if got.DownloadLimit != tc.wantDown {
				t.Fatalf("DownloadLimit = %d, want %d", got.DownloadLimit, tc.wantDown)
			}
			if got.UploadLimit != tc.wantUp {
				t.Fatalf("UploadLimit = %d, want %d", got.UploadLimit, tc.wantUp)
			}
			if got.DataDir != "/tmp/x" {
				t.Fatalf("DataDir = %q", got.DataDir)
			}
		})
	}
}

func TestTorrentSettingsEngineInvertsSwitches(t *testing.T) {
	got := TorrentSettings{TorrentDHT: true, TorrentPeX: false, TorrentPort: 6881, DHTPort: 6882, MaxConns: 50}.Engine("")
	if got.DHT {
		t.Fatal("DHT should be disabled when torrentDHT is set")
	}
	if !got.PEX {
		t.Fatal("PEX should be enabled when torrentPeX is unset")
	}
	if got.ListenPort != 6881 || got.DHTPort != 6882 || got.MaxConns != 50 {
		t.Fatalf("unexpected ports/conns: %+v", got)
	}
}

func TestTorrentSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      TorrentSettings
		wantErr bool
	}{
		{"ok", TorrentSettings{TorrentSpeed: 5, TorrentPort: 6881, MaxConns: 50}, false},
		{"portTooHigh", TorrentSettings{TorrentPort: 70000}, true},
		{"negativeDHTPort", TorrentSettings{DHTPort: -1}, true},
		{"negativeConns", TorrentSettings{MaxConns: -1}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.in.Validate()
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestBitfieldMSBFirst(t *testing.T) {
	b := NewBitfield(10)
	if len(b) != 2 {
		t.Fatalf("len = %d, want 2", len(b))
	}
	b.Set(0)
	b.Set(9)
	if b[0] != 0x80 || b[1] != 0x40 {
		t.Fatalf("bytes = %08b %08b", b[0], b[1])
	}
	if !b.Has(0) || !b.Has(9) || b.Has(1) {
		t.Fatal("Has mismatch")
	}
	if b.Has(16) || b.Has(-1) {
		t.Fatal("out of range bits must read as unset")
	}
	if got := b.Count(10); got != 2 {
		t.Fatalf("Count = %d, want 2", got)
	}
	b.Clear(0)
	if b.Has(0) || b[0] != 0 {
		t.Fatalf("Clear left %08b", b[0])
	}
}

func TestNormalizeInfoHash(t *testing.T) {
	h, ok := NormalizeInfoHash(" DD8255ECDC7CA55FB0BBF81323D87062DB1F6D1C ")
	if !ok {
		t.Fatal("expected valid hash")
	}
	if h != "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c" {
		t.Fatalf("hash = %q", h)
	}
	if _, ok := NormalizeInfoHash("xyz"); ok {
		t.Fatal("short hash must be invalid")
	}
	if _, ok := NormalizeInfoHash("zz8255ecdc7ca55fb0bbf81323d87062db1f6d1c"); ok {
		t.Fatal("non-hex hash must be invalid")
	}
}

func TestRecordTrackers(t *testing.T) {
	r := TorrentStateRecord{AnnounceList: [][]string{{"udp://a"}, {"udp://b", "udp://a"}, {""}}}
	if got, want := r.Trackers(), []string{"udp://a", "udp://b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Trackers = %v, want %v", got, want)
	}
	if r.Announce() != "udp://a" {
		t.Fatalf("Announce = %q", r.Announce())
	}
	if (TorrentStateRecord{}).Announce() != "" {
		t.Fatal("empty record should have no announce")
	}
}

func TestStatsJSONTags(t *testing.T) {
	expectJSONTag(t, TorrentStats{}, "ETA", "eta")
	expectJSONTag(t, TorrentStats{}, "Down", "down")
	expectJSONTag(t, PlayableFile{}, "URL", "url")
	expectJSONTag(t, TorrentSettings{}, "TorrentStreamedDownload", "torrentStreamedDownload")
}

func expectJSONTag(t *testing.T, v any, field, want string) {
	t.Helper()
	f, ok := reflect.TypeOf(v).FieldByName(field)
	if !ok {
		t.Fatalf("field %s not found", field)
	}
	if got := f.Tag.Get("json"); got != want {
		t.Fatalf("%s json tag = %q, want %q", field, got, want)
	}
}
