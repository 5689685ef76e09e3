package tasks

import (
	"path/filepath"
	"testing"
)

func TestCreateTaskAllocatesSequentialIDs(t *testing.T) {
	dir := t.TempDir()
	r, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatal(err)
	}

	id1, state1, err := r.CreateTask("/repo", "first run")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != "task_0" || state1 != "state_0.json" {
		t.Fatalf("got id=%s state=%s", id1, state1)
	}

	id2, state2, err := r.CreateTask("/repo2", "")
	if err != nil {
		t.Fatal(err)
	}
	if id2 != "task_1" || state2 != "state_1.json" {
		t.Fatalf("got id=%s state=%s", id2, state2)
	}
}

func TestRegistryPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	r, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatal(err)
	}
	id, _, err := r.CreateTask("/repo", "desc")
	if err != nil {
		t.Fatal(err)
	}

	r2, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatal(err)
	}
	e := r2.GetTask(id)
	if e == nil {
		t.Fatal("expected task to survive reload")
	}
	if e.WorkingDir != "/repo" {
		t.Fatalf("got working dir %s", e.WorkingDir)
	}

	// next allocation must not collide with the reloaded counter
	id2, _, err := r2.CreateTask("/repo3", "")
	if err != nil {
		t.Fatal(err)
	}
	if id2 == id {
		t.Fatalf("expected distinct id, got %s twice", id2)
	}
}

func TestMarkCompletedAndIncomplete(t *testing.T) {
	dir := t.TempDir()
	r, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatal(err)
	}
	id, _, err := r.CreateTask("/repo", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(r.IncompleteTasks()) != 1 {
		t.Fatal("expected one incomplete task")
	}
	if err := r.MarkCompleted(id); err != nil {
		t.Fatal(err)
	}
	if len(r.IncompleteTasks()) != 0 {
		t.Fatal("expected zero incomplete tasks after MarkCompleted")
	}
}

func TestStatePath(t *testing.T) {
	dir := t.TempDir()
	r, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatal(err)
	}
	id, _, err := r.CreateTask("/repo", "")
	if err != nil {
		t.Fatal(err)
	}
	p, err := r.StatePath(id)
	if err != nil {
		t.Fatal(err)
	}
	if p != filepath.Join(dir, "state_0.json") {
		t.Fatalf("got %s", p)
	}
}
