// Package procutil reads the Linux process tree from /proc to name
// prompts: the title of the current process and the program on whose
// behalf an API caller runs.
package procutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// procRoot is swapped in tests for a fake tree.
var procRoot = "/proc"

// shells are skipped when looking for the program behind a command.
var shells = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "fish": true,
	"dash": true, "csh": true, "tcsh": true, "ksh": true,
}

// IsShell reports whether comm is a known shell.
func IsShell(comm string) bool {
	return shells[comm]
}

// ProcessTitle returns the name of the current process: its comm where
// /proc is available, the base name of os.Args[0] otherwise.
func ProcessTitle() string {
	if comm := ReadComm(int32(os.Getpid())); comm != "" {
		return comm
	}
	if len(os.Args) == 0 {
		return ""
	}
	return filepath.Base(os.Args[0])
}

// ReadComm returns the comm of pid, or "" if it cannot be read.
func ReadComm(pid int32) string {
	data, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(int(pid)), "comm"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// procStat holds the /proc/<pid>/stat fields we use.
type procStat struct {
	ppid    int32
	session int32
}

// readStat parses /proc/<pid>/stat. The comm field may contain spaces and
// parentheses, so parsing starts after the last ')'.
func readStat(pid int32) (procStat, bool) {
	data, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(int(pid)), "stat"))
	if err != nil {
		return procStat{}, false
	}
	s := string(data)
	i := strings.LastIndexByte(s, ')')
	if i < 0 {
		return procStat{}, false
	}
	// state ppid pgrp session ...
	fields := strings.Fields(s[i+1:])
	if len(fields) < 4 {
		return procStat{}, false
	}
	ppid, err1 := strconv.ParseInt(fields[1], 10, 32)
	sid, err2 := strconv.ParseInt(fields[3], 10, 32)
	if err1 != nil || err2 != nil {
		return procStat{}, false
	}
	return procStat{ppid: int32(ppid), session: int32(sid)}, true
}

// ReadPPID returns the parent of pid, or 0 if it cannot be read.
func ReadPPID(pid int32) int32 {
	st, _ := readStat(pid)
	return st.ppid
}

// ProcEntry is one process in a chain.
type ProcEntry struct {
	Comm string
	PID  int32
}

func (p ProcEntry) String() string {
	return fmt.Sprintf("%s[%d]", p.Comm, p.PID)
}

// ancestors calls visit for pid and each of its ancestors below init
// until visit returns false or the tree cannot be read.
func ancestors(pid int32, visit func(ProcEntry, procStat) bool) {
	for p := pid; p > 1; {
		comm := ReadComm(p)
		st, ok := readStat(p)
		if comm == "" || !ok {
			return
		}
		if !visit(ProcEntry{Comm: comm, PID: p}, st) {
			return
		}
		p = st.ppid
	}
}

// ReadProcessChain returns pid followed by its ancestors, excluding init.
// With stopAtSessionLeader the chain ends before the session leader,
// which is usually the login shell or terminal.
func ReadProcessChain(pid int32, stopAtSessionLeader bool) []ProcEntry {
	var chain []ProcEntry
	ancestors(pid, func(e ProcEntry, st procStat) bool {
		if stopAtSessionLeader && st.session == e.PID {
			return false
		}
		chain = append(chain, e)
		return true
	})
	return chain
}

// ResolveInvoker returns the first process, starting at pid and walking
// up, that is not a shell. When pid and all its ancestors are shells, pid
// itself is returned. It returns ("", 0) if pid cannot be read.
func ResolveInvoker(pid uint32) (comm string, invokerPID uint32) {
	start := ReadComm(int32(pid))
	if start == "" {
		return "", 0
	}
	comm, invokerPID = start, pid
	ancestors(int32(pid), func(e ProcEntry, _ procStat) bool {
		if IsShell(e.Comm) {
			return true
		}
		comm, invokerPID = e.Comm, uint32(e.PID)
		return false
	})
	return comm, invokerPID
}
