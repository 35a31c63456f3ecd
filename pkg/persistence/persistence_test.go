package persistence

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestFormatAndParseCommand(t *testing.T) {
	testCases := []struct {
		name string
		cmd  string
		args [][]byte
	}{
		{"set", "SET", [][]byte{[]byte("key"), []byte("value")}},
		{"binary safe", "SET", [][]byte{[]byte("k\r\n"), []byte("a\x00b")}},
		{"empty value", "SET", [][]byte{[]byte("k"), {}}},
		{"del", "DEL", [][]byte{[]byte("k")}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			raw := FormatCommand(tc.cmd, tc.args...)
			got, err := ParseCommand(bufio.NewReader(bytes.NewReader(raw)))
			if err != nil {
				t.Fatalf("ParseCommand failed: %v", err)
			}
			if got.Name != tc.cmd {
				t.Errorf("name = %q, want %q", got.Name, tc.cmd)
			}
			if len(got.Args) != len(tc.args) {
				t.Fatalf("got %d args, want %d", len(got.Args), len(tc.args))
			}
			for i := range tc.args {
				if !bytes.Equal(got.Args[i], tc.args[i]) {
					t.Errorf("arg %d = %q, want %q", i, got.Args[i], tc.args[i])
				}
			}
		})
	}
}

func TestParseCommandLowercasesName(t *testing.T) {
	got, err := ParseCommand(bufio.NewReader(bytes.NewReader(FormatCommand("del", []byte("k")))))
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "DEL" {
		t.Fatalf("expected DEL, got %q", got.Name)
	}
}

func TestParseCommandErrors(t *testing.T) {
	inputs := []string{
		"SET k v\r\n",
		"*0\r\n",
		"*2\r\n$3\r\nSET\r\n",
		"*1\r\n$10\r\nSET\r\n",
		"*1\r\n$3\r\nSETXX",
	}
	for _, in := range inputs {
		if _, err := ParseCommand(bufio.NewReader(bytes.NewBufferString(in))); err == nil || err == io.EOF {
			t.Errorf("expected a parse error for %q, got %v", in, err)
		}
	}
}

func TestParseCommands(t *testing.T) {
	var payload []byte
	payload = append(payload, FormatCommand("SET", []byte("a"), []byte("1"))...)
	payload = append(payload, FormatCommand("DEL", []byte("b"))...)

	cmds, err := ParseCommands(payload)
	if err != nil {
		t.Fatal(err)
	}
	names := []string{cmds[0].Name, cmds[1].Name}
	if !reflect.DeepEqual(names, []string{"SET", "DEL"}) {
		t.Fatalf("unexpected commands %v", names)
	}
}

func TestFrameRoundTripAndCorruption(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	payload := FormatCommand("SET", []byte("k"), []byte("v"))
	if _, err := fw.WriteFrame(OpCodeBatch, payload); err != nil {
		t.Fatal(err)
	}

	frame := append([]byte(nil), buf.Bytes()...)

	op, got, n, err := ReadFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatal(err)
	}
	if op != OpCodeBatch || !bytes.Equal(got, payload) || n != len(frame) {
		t.Fatalf("round trip mismatch: op=%d n=%d", op, n)
	}

	corrupt := append([]byte(nil), frame...)
	corrupt[len(corrupt)-1] ^= 0xFF
	if _, _, _, err := ReadFrame(bytes.NewReader(corrupt)); err != ErrChecksumMismatch {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}

	badMagic := append([]byte(nil), frame...)
	badMagic[0] = 0
	if _, _, _, err := ReadFrame(bytes.NewReader(badMagic)); err != ErrInvalidMagic {
		t.Errorf("expected ErrInvalidMagic, got %v", err)
	}

	if _, _, _, err := ReadFrame(bytes.NewReader(frame[:len(frame)-2])); err != ErrIncompleteFrame {
		t.Errorf("expected ErrIncompleteFrame, got %v", err)
	}
	if _, _, _, err := ReadFrame(bytes.NewReader(nil)); err != io.EOF {
		t.Errorf("expected io.EOF on empty input, got %v", err)
	}
}

func TestAOFWriterRollbackAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.aof")

	w, err := NewAOFWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(OpCodeCommand, FormatCommand("SET", []byte("a"), []byte("1"))); err != nil {
		t.Fatal(err)
	}
	if err := w.Sync(); err != nil {
		t.Fatal(err)
	}
	good := w.Size()

	w.Append(OpCodeCommand, FormatCommand("SET", []byte("b"), []byte("2")))
	if err := w.Rollback(good); err != nil {
		t.Fatal(err)
	}
	w.Close()

	var seen []string
	offset, err := Replay(path, func(cmds []*Command) error {
		for _, c := range cmds {
			seen = append(seen, string(c.Args[0]))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if offset != good {
		t.Errorf("offset = %d, want %d", offset, good)
	}
	if !reflect.DeepEqual(seen, []string{"a"}) {
		t.Errorf("replayed keys %v, want [a]", seen)
	}
}

func TestReplayMissingFile(t *testing.T) {
	offset, err := Replay(filepath.Join(t.TempDir(), "absent.aof"), func([]*Command) error {
		t.Fatal("apply must not be called")
		return nil
	})
	if err != nil || offset != 0 {
		t.Fatalf("offset=%d err=%v", offset, err)
	}
}

func TestReplaceWith(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.aof")
	w, _ := NewAOFWriter(path)
	w.Append(OpCodeCommand, FormatCommand("SET", []byte("old"), []byte("1")))
	w.Sync()

	newPath := filepath.Join(dir, "new.aof")
	if err := os.WriteFile(newPath, EncodeFrame(OpCodeCommand, FormatCommand("SET", []byte("new"), []byte("2"))), 0644); err != nil {
		t.Fatal(err)
	}
	if err := w.ReplaceWith(newPath); err != nil {
		t.Fatal(err)
	}
	w.Close()

	var keys []string
	Replay(path, func(cmds []*Command) error {
		keys = append(keys, string(cmds[0].Args[0]))
		return nil
	})
	if !reflect.DeepEqual(keys, []string{"new"}) {
		t.Fatalf("expected [new], got %v", keys)
	}
}
