// builtin_objects.go — method dispatch for the shallow COM object model.
//
// Only the handful of ProgIDs maldocs actually use are modeled, and only
// deeply enough to capture their observable effects: WScript.Shell runs
// commands, FileSystemObject and ADODB.Stream write files, XMLHTTP fetches
// payloads. Everything else answers Unknown and records a diagnostic, so
// emulation continues past the parts we cannot model.
package vmacro

import (
	"fmt"
	"strings"
)

// callObjectMethod dispatches obj.Name(args). Property reads with call
// syntax land here too; evalMember handles the no-paren form.
func callObjectMethod(ctx *Context, obj *Object, name string, args []Value) (Value, error) {
	method := strings.ToLower(name)
	switch obj.Class {
	case "WScript.Shell":
		return wshellMethod(ctx, obj, method, args)
	case "Scripting.FileSystemObject":
		return fsoMethod(ctx, obj, method, args)
	case "TextStream":
		return textStreamMethod(ctx, obj, method, args)
	case "ADODB.Stream":
		return adoStreamMethod(ctx, obj, method, args)
	case "MSXML2.XMLHTTP":
		return xmlhttpMethod(ctx, obj, method, args)
	case "Shell.Application":
		if method == "shellexecute" {
			cmd := asString(arg(args, 0))
			rest := make([]string, 0, len(args))
			for _, a := range args {
				rest = append(rest, asString(a))
			}
			ctx.Recorder.Record("shell", rest, "ShellExecute")
			ctx.RecordPayload(cmd)
			return Empty, nil
		}
	case "Array":
		return Unknown, &UnsupportedError{What: "method call on array"}
	}
	return Unknown, &UnsupportedError{What: obj.Class + "." + name}
}

func wshellMethod(ctx *Context, obj *Object, method string, args []Value) (Value, error) {
	switch method {
	case "run", "exec":
		cmd := asString(arg(args, 0))
		desc := "WScript.Shell.Run"
		if method == "exec" {
			desc = "WScript.Shell.Exec"
		}
		ctx.Recorder.Record("shell", []string{cmd}, desc)
		ctx.RecordPayload(cmd)
		if method == "exec" {
			return ObjVal(&Object{Class: "WshExec", Props: map[string]Value{
				"status": Int(1),
			}}), nil
		}
		return Int(0), nil
	case "regwrite":
		ctx.Recorder.Record("registry-write",
			[]string{asString(arg(args, 0)), asString(arg(args, 1))}, "RegWrite")
		return Empty, nil
	case "regread":
		ctx.Recorder.Record("registry-read", []string{asString(arg(args, 0))}, "RegRead")
		return Str(""), nil
	case "expandenvironmentstrings":
		s := asString(arg(args, 0))
		out := s
		for k, v := range ctx.Env {
			out = strings.ReplaceAll(out, "%"+k+"%", v)
			out = strings.ReplaceAll(out, "%"+strings.ToLower(k)+"%", v)
		}
		return Str(out), nil
	case "specialfolders":
		name := strings.ToLower(asString(arg(args, 0)))
		switch name {
		case "startup":
			return Str(ctx.Environ("APPDATA") + `\Microsoft\Windows\Start Menu\Programs\Startup`), nil
		case "desktop":
			return Str(ctx.Environ("USERPROFILE") + `\Desktop`), nil
		}
		return Str(ctx.Environ("USERPROFILE")), nil
	case "environment":
		return ObjVal(&Object{Class: "WshEnvironment", Props: map[string]Value{}}), nil
	}
	return Unknown, &UnsupportedError{What: "WScript.Shell." + method}
}

func fsoMethod(ctx *Context, obj *Object, method string, args []Value) (Value, error) {
	switch method {
	case "createtextfile", "opentextfile":
		path := asString(arg(args, 0))
		f := ctx.OpenPathFile(path)
		return ObjVal(&Object{Class: "TextStream", Path: f.Path, Props: map[string]Value{}}), nil
	case "fileexists", "folderexists":
		ctx.Recorder.Record("file-probe", []string{asString(arg(args, 0))}, "FSO existence check")
		return Bool(false), nil
	case "deletefile":
		ctx.Recorder.Record("file-delete", []string{asString(arg(args, 0))}, "FSO.DeleteFile")
		return Empty, nil
	case "copyfile":
		ctx.Recorder.Record("file-copy",
			[]string{asString(arg(args, 0)), asString(arg(args, 1))}, "FSO.CopyFile")
		return Empty, nil
	case "createfolder":
		ctx.Recorder.Record("mkdir", []string{asString(arg(args, 0))}, "FSO.CreateFolder")
		return Empty, nil
	case "buildpath":
		a, b := asString(arg(args, 0)), asString(arg(args, 1))
		return Str(strings.TrimRight(a, `\`) + `\` + b), nil
	case "getspecialfolder":
		n, _ := asInt(arg(args, 0))
		switch n {
		case 0:
			return Str(ctx.Environ("WINDIR")), nil
		case 1:
			return Str(ctx.Environ("WINDIR") + `\System32`), nil
		}
		return Str(ctx.Environ("TEMP")), nil
	case "gettempname":
		return Str("rad00001.tmp"), nil
	}
	return Unknown, &UnsupportedError{What: "FileSystemObject." + method}
}

func textStreamMethod(ctx *Context, obj *Object, method string, args []Value) (Value, error) {
	f := ctx.OpenPathFile(obj.Path)
	switch method {
	case "write":
		f.Data = append(f.Data, []byte(asString(arg(args, 0)))...)
		return Empty, nil
	case "writeline":
		f.Data = append(f.Data, []byte(asString(arg(args, 0))+"\r\n")...)
		return Empty, nil
	case "close":
		ctx.ClosePath(f)
		return Empty, nil
	}
	return Unknown, &UnsupportedError{What: "TextStream." + method}
}

func adoStreamMethod(ctx *Context, obj *Object, method string, args []Value) (Value, error) {
	switch method {
	case "open":
		return Empty, nil
	case "write", "writetext":
		v := arg(args, 0)
		var b []byte
		if v.Tag == VTBytes {
			b = v.Data.([]byte)
		} else {
			b = []byte(asString(v))
		}
		buf := obj.Props["buffer"]
		var cur []byte
		if buf.Tag == VTBytes {
			cur = buf.Data.([]byte)
		}
		obj.Props["buffer"] = Bytes(append(cur, b...))
		return Empty, nil
	case "savetofile":
		path := asString(arg(args, 0))
		f := ctx.OpenPathFile(path)
		if buf, ok := obj.Props["buffer"]; ok && buf.Tag == VTBytes {
			f.Data = append(f.Data, buf.Data.([]byte)...)
		}
		ctx.Recorder.Record("file-write", []string{path}, "ADODB.Stream.SaveToFile")
		ctx.ClosePath(f)
		return Empty, nil
	case "close":
		return Empty, nil
	case "readtext", "read":
		if buf, ok := obj.Props["buffer"]; ok {
			return buf, nil
		}
		return Str(""), nil
	}
	return Unknown, &UnsupportedError{What: "ADODB.Stream." + method}
}

func xmlhttpMethod(ctx *Context, obj *Object, method string, args []Value) (Value, error) {
	switch method {
	case "open":
		verb, url := asString(arg(args, 0)), asString(arg(args, 1))
		obj.Props["url"] = Str(url)
		ctx.Recorder.Record("network", []string{verb, url}, "HTTP request prepared")
		ctx.RecordPayload(url)
		return Empty, nil
	case "send":
		url := ""
		if u, ok := obj.Props["url"]; ok {
			url = asString(u)
		}
		ctx.Recorder.Record("network", []string{"SEND", url}, "HTTP request sent")
		obj.Props["status"] = Int(200)
		obj.Props["readystate"] = Int(4)
		obj.Props["responsetext"] = Str("")
		obj.Props["responsebody"] = Bytes(nil)
		return Empty, nil
	case "setrequestheader":
		return Empty, nil
	}
	return Unknown, &UnsupportedError{What: "XMLHTTP." + method}
}

// objectProperty reads obj.Name without call parens. Unknown properties
// answer Unknown so chained accesses keep flowing.
func objectProperty(ctx *Context, obj *Object, name string) (Value, error) {
	key := strings.ToLower(name)
	if v, ok := obj.Props[key]; ok {
		return v, nil
	}
	switch obj.Class {
	case "ADODB.Stream":
		switch key {
		case "size":
			if buf, ok := obj.Props["buffer"]; ok && buf.Tag == VTBytes {
				return Int(int64(len(buf.Data.([]byte)))), nil
			}
			return Int(0), nil
		}
	case "MSXML2.XMLHTTP":
		switch key {
		case "status":
			return Int(200), nil
		case "readystate":
			return Int(4), nil
		case "responsetext":
			return Str(""), nil
		case "responsebody":
			return Bytes(nil), nil
		}
	}
	return Unknown, &UnsupportedError{What: obj.Class + "." + name}
}

// setObjectProperty writes obj.Name = v (stream.Type = 1 and friends).
func setObjectProperty(obj *Object, name string, v Value) {
	if obj.Props == nil {
		obj.Props = map[string]Value{}
	}
	obj.Props[strings.ToLower(name)] = v
}

// indexArray resolves arr(i), erroring outside bounds.
func indexArray(arr *Object, idx int64) (Value, error) {
	if idx < 0 || idx >= int64(len(arr.Items)) {
		return Empty, fmt.Errorf("subscript out of range: %d", idx)
	}
	return arr.Items[idx], nil
}

// setArrayIndex writes arr(i) = v, growing the array for writes one past
// the end (ReDim Preserve idiom).
func setArrayIndex(arr *Object, idx int64, v Value) error {
	if idx < 0 {
		return fmt.Errorf("subscript out of range: %d", idx)
	}
	for int64(len(arr.Items)) <= idx {
		arr.Items = append(arr.Items, Empty)
	}
	arr.Items[idx] = v
	return nil
}
