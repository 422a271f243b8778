package vmacro

import "testing"

func Test_Context_Scope_Resolution_Skips_Intermediate_Frames(t *testing.T) {
	c := NewContext()
	c.SetGlobal("g", Int(1))

	c.PushScope()
	c.SetLocal("outer", Int(2))

	c.PushScope()
	if _, ok := c.Get("outer"); ok {
		t.Fatalf("caller locals must not be visible in the callee")
	}
	if v, ok := c.Get("g"); !ok || asString(v) != "1" {
		t.Fatalf("globals must be visible everywhere")
	}

	c.PopScope()
	if v, ok := c.Get("outer"); !ok || asString(v) != "2" {
		t.Fatalf("frame state lost across a nested call")
	}
	c.PopScope()
}

func Test_Context_Set_Prefers_Existing_Binding(t *testing.T) {
	c := NewContext()
	c.SetGlobal("x", Int(1))
	c.PushScope()
	c.Set("x", Int(2)) // no local x: the global is updated
	c.PopScope()
	if v, _ := c.Get("x"); asString(v) != "2" {
		t.Fatalf("Set did not reach the global binding")
	}

	c.PushScope()
	c.Declare("x")
	c.Set("x", Int(3)) // local x shadows
	c.PopScope()
	if v, _ := c.Get("x"); asString(v) != "2" {
		t.Fatalf("local shadow leaked to the global")
	}
}

func Test_Context_Names_Are_Case_Insensitive(t *testing.T) {
	c := NewContext()
	c.SetGlobal("MyVar", Int(7))
	if v, ok := c.Get("MYVAR"); !ok || asString(v) != "7" {
		t.Fatalf("case-insensitive lookup failed")
	}
	c.Set("myvar", Int(8))
	if v, _ := c.Get("MyVar"); asString(v) != "8" {
		t.Fatalf("case-insensitive update created a second binding")
	}
}

func Test_Context_Statics_Survive_Invocations(t *testing.T) {
	c := NewContext()
	if _, ok := c.GetStatic("Counter", "n"); ok {
		t.Fatalf("unset static should miss")
	}
	c.SetStatic("Counter", "n", Int(1))
	if v, ok := c.GetStatic("COUNTER", "N"); !ok || asString(v) != "1" {
		t.Fatalf("statics must be case-insensitive and persistent")
	}
	if _, ok := c.GetStatic("Other", "n"); ok {
		t.Fatalf("statics leak across procedures")
	}
}

func Test_Context_File_Closes_Exactly_Once(t *testing.T) {
	c := NewContext()
	f := c.OpenFile(1, `C:\a.txt`, "output")
	f.Data = append(f.Data, 'x')

	c.CloseChannel(1)
	c.CloseChannel(1) // unknown channel now, no-op
	c.CloseAll()      // already closed, no second entry

	if n := len(c.DroppedFiles()); n != 1 {
		t.Fatalf("expected 1 dropped file, got %d", n)
	}
	closes := 0
	for _, a := range c.Recorder.Actions() {
		if a.Category == "file-close" {
			closes++
		}
	}
	if closes != 1 {
		t.Fatalf("file-close recorded %d times", closes)
	}
}

func Test_Context_Reopen_For_Output_Truncates(t *testing.T) {
	c := NewContext()
	f := c.OpenFile(1, `C:\a.txt`, "output")
	f.Data = append(f.Data, []byte("old")...)
	c.CloseChannel(1)

	f2 := c.OpenFile(2, `C:\A.TXT`, "output") // path lookup is case-insensitive
	if len(f2.Data) != 0 {
		t.Fatalf("output mode should truncate, kept %q", f2.Data)
	}
	f2.Data = append(f2.Data, []byte("new")...)
	c.CloseAll()

	// the same path closed twice across reopens yields two close events
	if n := len(c.DroppedFiles()); n != 2 {
		t.Fatalf("expected 2 close events, got %d", n)
	}
}

func Test_Context_CloseAll_Flushes_Path_Files(t *testing.T) {
	c := NewContext()
	f := c.OpenPathFile(`C:\stream.bin`)
	f.Data = append(f.Data, []byte("payload")...)
	c.CloseAll()
	files := c.DroppedFiles()
	if len(files) != 1 || string(files[0].Data) != "payload" {
		t.Fatalf("path-addressed file not flushed: %v", files)
	}
}

func Test_Context_Payload_Dedup(t *testing.T) {
	c := NewContext()
	c.RecordPayload("http://evil.example/a")
	c.RecordPayload("http://evil.example/b")
	c.RecordPayload("http://evil.example/a") // decoded again elsewhere
	c.RecordPayload("   ")                   // blank is noise

	got := c.Payloads()
	if len(got) != 2 {
		t.Fatalf("expected 2 unique payloads, got %v", got)
	}
	if got[0] != "http://evil.example/a" || got[1] != "http://evil.example/b" {
		t.Fatalf("first-seen order lost: %v", got)
	}
}

func Test_Context_Recursion_Bound(t *testing.T) {
	c := NewContext()
	c.Bounds.MaxRecursionDepth = 2
	if err := c.EnterCall("A"); err != nil {
		t.Fatalf("depth 1: %v", err)
	}
	if err := c.EnterCall("A"); err != nil {
		t.Fatalf("depth 2: %v", err)
	}
	err := c.EnterCall("A")
	if err == nil {
		t.Fatalf("third call should hit the bound")
	}
	if _, ok := err.(*RecursionLimitError); !ok {
		t.Fatalf("expected RecursionLimitError, got %T", err)
	}
	c.LeaveCall()
	c.LeaveCall()
	if err := c.EnterCall("A"); err != nil {
		t.Fatalf("depth should have unwound: %v", err)
	}
}

func Test_Context_Environ_Is_Case_Insensitive(t *testing.T) {
	c := NewContext()
	if c.Environ("username") != "admin" {
		t.Fatalf("got %q", c.Environ("username"))
	}
	if c.Environ("NO_SUCH_VAR") != "" {
		t.Fatalf("missing variable should answer empty")
	}
}
