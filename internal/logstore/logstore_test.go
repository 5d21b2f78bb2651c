package logstore

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func testRef(try int) Ref {
	return Ref{
		DagID:     "etl",
		RunID:     "manual__abc",
		TaskID:    "fetch",
		MapIndex:  -1,
		TryNumber: try,
	}
}

func TestStore_OpenWriteRead(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	w, err := store.Open(testRef(1))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fmt.Fprintln(w, "line one")
	fmt.Fprintln(w, "line two")
	w.Close()

	content, err := store.Read(testRef(1), true)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(content.Text, "line one") || !strings.Contains(content.Text, "line two") {
		t.Errorf("unexpected content: %q", content.Text)
	}
	if content.Truncated {
		t.Error("full read should not be truncated")
	}
}

func TestStore_OpenAppends(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	// Повторный Open дописывает, а не перезаписывает
	for _, line := range []string{"first", "second"} {
		w, err := store.Open(testRef(1))
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		fmt.Fprintln(w, line)
		w.Close()
	}

	content, err := store.Read(testRef(1), true)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(content.Text, "first") || !strings.Contains(content.Text, "second") {
		t.Errorf("expected both writes, got %q", content.Text)
	}
}

func TestStore_Append(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := store.Append(testRef(1), "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}

	content, err := store.Read(testRef(1), true)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// Append добавляет метку времени
	if !strings.Contains(content.Text, "] hello") {
		t.Errorf("expected timestamped line, got %q", content.Text)
	}
}

func TestStore_ReadTail(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	w, err := store.Open(testRef(1))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < DefaultTailLines+50; i++ {
		fmt.Fprintf(w, "line %d\n", i)
	}
	w.Close()

	content, err := store.Read(testRef(1), false)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !content.Truncated {
		t.Error("tail of oversized log should be truncated")
	}

	lines := strings.Split(content.Text, "\n")
	if len(lines) != DefaultTailLines {
		t.Errorf("expected %d lines, got %d", DefaultTailLines, len(lines))
	}
	// Хвост начинается с первой невместившейся строки
	if lines[0] != "line 50" {
		t.Errorf("expected tail to start at line 50, got %q", lines[0])
	}
	if lines[len(lines)-1] != fmt.Sprintf("line %d", DefaultTailLines+49) {
		t.Errorf("unexpected last line: %q", lines[len(lines)-1])
	}
}

func TestStore_ReadTail_ShortLog(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := store.Append(testRef(1), "only line"); err != nil {
		t.Fatalf("append: %v", err)
	}

	content, err := store.Read(testRef(1), false)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if content.Truncated {
		t.Error("short log should not be truncated")
	}
}

func TestStore_ReadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	_, err = store.Read(testRef(99), true)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListTries(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	for try := 1; try <= 3; try++ {
		if err := store.Append(testRef(try), "x"); err != nil {
			t.Fatalf("append try %d: %v", try, err)
		}
	}

	tries, err := store.ListTries(testRef(0))
	if err != nil {
		t.Fatalf("list tries: %v", err)
	}
	if len(tries) != 3 {
		t.Errorf("expected 3 tries, got %v", tries)
	}

	// Отсутствующая директория — пустой список без ошибки
	missing := Ref{DagID: "ghost", RunID: "r", TaskID: "t", MapIndex: -1}
	tries, err = store.ListTries(missing)
	if err != nil {
		t.Fatalf("list missing: %v", err)
	}
	if len(tries) != 0 {
		t.Errorf("expected no tries, got %v", tries)
	}
}

func TestStore_PathTraversalGuard(t *testing.T) {
	base := t.TempDir()
	store, err := NewStore(base)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	evil := Ref{DagID: "../../etc", RunID: "r", TaskID: "t", MapIndex: -1, TryNumber: 1}
	if err := store.Append(evil, "x"); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Компоненты ключа нормализуются: запись остаётся внутри base
	content, err := store.Read(Ref{DagID: "etc", RunID: "r", TaskID: "t", MapIndex: -1, TryNumber: 1}, true)
	if err != nil {
		t.Fatalf("read sanitized path: %v", err)
	}
	if !strings.Contains(content.Text, "x") {
		t.Errorf("unexpected content: %q", content.Text)
	}
}
