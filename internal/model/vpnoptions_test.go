package model

import (
	"errors"
	"os"
	"testing"
)

func TestGetOptionsFromLines(t *testing.T) {
	t.Run("valid options return a valid option object", func(t *testing.T) {
		l := []string{
			"remote 0.0.0.0 1194",
			"cipher AES-256-GCM",
			"auth SHA512",
			"ca ca.crt",
		}
		opt, err := getOptionsFromLines(l)
		if err != nil {
			t.Errorf("Good options should not fail: %s", err)
		}
		if opt.Cipher != "AES-256-GCM" {
			t.Errorf("Cipher not what expected")
		}
		if opt.Auth != "SHA512" {
			t.Errorf("Auth not what expected")
		}
		if opt.Compress != CompressionNone {
			t.Errorf("Expected no compression")
		}
		if opt.ReplayWindow != DefaultReplayWindow {
			t.Errorf("Expected default replay window")
		}
		if !opt.PeerID.IsNone() {
			t.Errorf("Expected no peer-id")
		}
	})

	t.Run("auth defaults to SHA1", func(t *testing.T) {
		opt, err := getOptionsFromLines([]string{"cipher AES-128-CBC"})
		if err != nil {
			t.Fatal(err)
		}
		if opt.Auth != DefaultAuth {
			t.Errorf("expected auth %s, got %s", DefaultAuth, opt.Auth)
		}
	})

	t.Run("lowercase names are normalized", func(t *testing.T) {
		opt, err := getOptionsFromLines([]string{"cipher chacha20-poly1305", "auth sha256"})
		if err != nil {
			t.Fatal(err)
		}
		if opt.Cipher != "CHACHA20-POLY1305" || opt.Auth != "SHA256" {
			t.Errorf("unexpected options: %+v", opt)
		}
	})

	t.Run("missing cipher fails validation", func(t *testing.T) {
		_, err := getOptionsFromLines([]string{"auth SHA256"})
		if !errors.Is(err, ErrBadConfig) {
			t.Errorf("expected ErrBadConfig, got %v", err)
		}
	})
}

func TestGetOptionsFromLinesInlineBlocks(t *testing.T) {
	t.Run("inline blocks are skipped", func(t *testing.T) {
		l := []string{
			"<ca>",
			"cipher BF-CBC",
			"</ca>",
			"cipher AES-128-GCM",
		}
		opt, err := getOptionsFromLines(l)
		if err != nil {
			t.Fatal(err)
		}
		if opt.Cipher != "AES-128-GCM" {
			t.Errorf("expected cipher from outside the block, got %s", opt.Cipher)
		}
	})

	t.Run("unclosed inline block fails", func(t *testing.T) {
		l := []string{
			"cipher AES-128-GCM",
			"<key>",
			"dummy",
		}
		if _, err := getOptionsFromLines(l); !errors.Is(err, ErrBadConfig) {
			t.Errorf("expected ErrBadConfig, got %v", err)
		}
	})
}

func TestGetOptionsComment(t *testing.T) {
	l := []string{
		"# cipher BF-CBC",
		"; cipher BF-CBC",
		"cipher AES-256-CBC",
	}
	opt, err := getOptionsFromLines(l)
	if err != nil {
		t.Fatal(err)
	}
	if opt.Cipher != "AES-256-CBC" {
		t.Errorf("comments should be ignored")
	}
}

func Test_parseCompress(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    Compression
		wantErr error
	}{
		{"no args", []string{}, CompressionEmpty, nil},
		{"stub", []string{"stub"}, CompressionStub, nil},
		{"stub-v2", []string{"stub-v2"}, CompressionStubV2, nil},
		{"lzo", []string{"lzo"}, CompressionLZO, nil},
		{"lz4", []string{"lz4"}, CompressionLZ4, nil},
		{"lz4-v2", []string{"lz4-v2"}, CompressionLZ4V2, nil},
		{"unknown", []string{"snappy"}, CompressionNone, ErrBadConfig},
		{"too many", []string{"stub", "stub"}, CompressionNone, ErrBadConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &DataChannelOptions{}
			err := parseCompress(tt.args, o)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("parseCompress() error = %v, wantErr %v", err, tt.wantErr)
			}
			if o.Compress != tt.want {
				t.Fatalf("parseCompress() = %v, want %v", o.Compress, tt.want)
			}
		})
	}
}

func Test_parseCompLZO(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    Compression
		wantErr error
	}{
		{"no args", []string{}, CompressionLZOYes, nil},
		{"yes", []string{"yes"}, CompressionLZOYes, nil},
		{"adaptive", []string{"adaptive"}, CompressionLZOYes, nil},
		{"no", []string{"no"}, CompressionLZONo, nil},
		{"bad", []string{"maybe"}, CompressionNone, ErrBadConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &DataChannelOptions{}
			err := parseCompLZO(tt.args, o)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("parseCompLZO() error = %v, wantErr %v", err, tt.wantErr)
			}
			if o.Compress != tt.want {
				t.Fatalf("parseCompLZO() = %v, want %v", o.Compress, tt.want)
			}
		})
	}
}

func Test_parsePeerID(t *testing.T) {
	o := &DataChannelOptions{}
	if err := parsePeerID([]string{"258"}, o); err != nil {
		t.Fatal(err)
	}
	if o.PeerID.IsNone() || o.PeerID.Unwrap() != (PeerID{0, 1, 2}) {
		t.Fatal("unexpected peer-id")
	}
	for _, bad := range [][]string{{}, {"x"}, {"16777216"}, {"-1"}} {
		if err := parsePeerID(bad, &DataChannelOptions{}); !errors.Is(err, ErrBadConfig) {
			t.Errorf("parsePeerID(%v): expected ErrBadConfig, got %v", bad, err)
		}
	}
}

func Test_parseReplayWindow(t *testing.T) {
	o := &DataChannelOptions{}
	if err := parseReplayWindow([]string{"128", "15"}, o); err != nil {
		t.Fatal(err)
	}
	if o.ReplayWindow != 128 {
		t.Fatalf("expected 128, got %d", o.ReplayWindow)
	}
	for _, bad := range [][]string{{}, {"0"}, {"9000"}, {"abc"}, {"1", "2", "3"}} {
		if err := parseReplayWindow(bad, &DataChannelOptions{}); !errors.Is(err, ErrBadConfig) {
			t.Errorf("parseReplayWindow(%v): expected ErrBadConfig, got %v", bad, err)
		}
	}
}

var dummyConfigFile = []byte(`proto udp
cipher AES-128-GCM
auth SHA1
compress stub-v2
peer-id 7`)

func writeDummyConfigFile(dir string) (string, error) {
	f, err := os.CreateTemp(dir, "tmpfile-")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(dummyConfigFile); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func Test_ParseConfigFile(t *testing.T) {
	t.Run("a valid configfile should be correctly parsed", func(t *testing.T) {
		f, err := writeDummyConfigFile(t.TempDir())
		if err != nil {
			t.Fatal("ParseConfigFile(): cannot write config needed for the test")
		}
		o, err := ReadConfigFile(f)
		if err != nil {
			t.Fatalf("ParseConfigFile(): expected err=%v, got=%v", nil, err)
		}
		wantCipher := "AES-128-GCM"
		if o.Cipher != wantCipher {
			t.Errorf("ParseConfigFile(): expected=%v, got=%v", wantCipher, o.Cipher)
		}
		if o.Compress != CompressionStubV2 {
			t.Errorf("ParseConfigFile(): expected=%v, got=%v", CompressionStubV2, o.Compress)
		}
		if o.PeerID.UnwrapOr(PeerID{}).Int() != 7 {
			t.Errorf("ParseConfigFile(): expected peer-id 7")
		}
	})

	t.Run("an empty file path should error", func(t *testing.T) {
		if _, err := ReadConfigFile(""); !errors.Is(err, ErrBadConfig) {
			t.Errorf("expected error with empty file")
		}
	})
}

func TestDataChannelOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    *DataChannelOptions
		wantErr error
	}{
		{"defaults with cipher", NewDataChannelOptions("AES-256-GCM"), nil},
		{"empty cipher", NewDataChannelOptions(""), ErrBadConfig},
		{"bad auth", &DataChannelOptions{Cipher: "AES-128-CBC", Auth: "MD5", ReplayWindow: 64}, ErrBadConfig},
		{"zero window", &DataChannelOptions{Cipher: "AES-128-CBC", Auth: "SHA1"}, ErrBadConfig},
		{"lowercase cipher", NewDataChannelOptions("aes-256-gcm"), nil},
		{"largest window", &DataChannelOptions{Cipher: "AES-128-GCM", Auth: "SHA1", ReplayWindow: MaxReplayWindow}, nil},
		{"window too large", &DataChannelOptions{Cipher: "AES-128-GCM", Auth: "SHA1", ReplayWindow: 9000}, ErrBadConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.opts.Validate(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDirectives(t *testing.T) {
	opts, err := ParseDirectives("cipher AES-128-GCM", "comp-lzo no", "peer-id 42")
	if err != nil {
		t.Fatal(err)
	}
	if opts.Cipher != "AES-128-GCM" || opts.Compress != CompressionLZONo {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.PeerID.Unwrap().Int() != 42 {
		t.Fatal("unexpected peer-id")
	}
	if _, err := ParseDirectives("auth MD5"); !errors.Is(err, ErrBadConfig) {
		t.Fatalf("expected ErrBadConfig, got %v", err)
	}
}
