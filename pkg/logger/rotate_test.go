package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestRotatingWriterKeepsBoundedBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	w, err := newRotatingWriterBytes(path, 10, 2, 0)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer w.Close()

	for _, chunk := range []string{"aaaaaaaa\n", "bbbbbbbb\n", "cccccccc\n", "dddddddd\n"} {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	read := func(p string) string {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		return string(data)
	}
	if got := read(path); got != "dddddddd\n" {
		t.Fatalf("current file %q", got)
	}
	if got := read(path + ".1"); got != "cccccccc\n" {
		t.Fatalf("backup 1 %q", got)
	}
	if got := read(path + ".2"); got != "bbbbbbbb\n" {
		t.Fatalf("backup 2 %q", got)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("expected at most two backups")
	}
}

func TestBuildHandlerHonoursFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	h, closers, err := buildHandler("text", []string{path}, nil)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	slog.New(h).Info("交易已提交", "tx_hash", "0x01")
	if err := closeAll(closers); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Contains(data, []byte("tx_hash=0x01")) {
		t.Fatalf("text output missing attribute: %s", data)
	}
}

func TestInitReplacesLazyDefault(t *testing.T) {
	_ = L()
	dir := t.TempDir()
	cfg := Config{
		Level:       "debug",
		OutputPaths: []string{filepath.Join(dir, "node.log")},
		Service:     "ddxfd",
		Audit:       AuditConfig{Enabled: true, Path: filepath.Join(dir, "audit.log")},
	}
	if err := Init(cfg); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer Sync()

	Named("txpool").Debug("处理交易")
	Tx("0xabc", "marketplace", "buyDToken").Info("交易已提交")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	main, _ := os.ReadFile(filepath.Join(dir, "node.log"))
	if !bytes.Contains(main, []byte(`"component":"txpool"`)) || !bytes.Contains(main, []byte(`"service":"ddxfd"`)) {
		t.Fatalf("main log missing attributes: %s", main)
	}
	audit, _ := os.ReadFile(filepath.Join(dir, "audit.log"))
	if !bytes.Contains(audit, []byte(`"tx_hash":"0xabc"`)) {
		t.Fatalf("audit log missing tx: %s", audit)
	}
}
